package embedding

import "context"

// Client returns one vector per input text, in input order.
type Client interface {
	GetEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}
