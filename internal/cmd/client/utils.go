package client

import (
	"encoding/json"
	"io"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/rzbill/conduit/internal/exchange"
)

// grpcAddrFromEnv returns the gRPC server address from CONDUIT_GRPC or a default.
func grpcAddrFromEnv() string {
	if addr := os.Getenv("CONDUIT_GRPC"); addr != "" {
		return addr
	}
	return "127.0.0.1:9090"
}

// dialGRPC creates a client for addr with insecure transport for local/dev.
func dialGRPC(addr string) (*grpc.ClientConn, error) {
	return grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
}

// parseBody decodes s as JSON when it is valid JSON and keeps it as text otherwise.
func parseBody(s string) any {
	var v any
	if json.Unmarshal([]byte(s), &v) == nil {
		return v
	}
	return s
}

type exchangeJSON struct {
	ID         string         `json:"id"`
	Body       any            `json:"body"`
	Headers    map[string]any `json:"headers,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
	Created    time.Time      `json:"created"`
}

func toJSON(ex *exchange.Exchange) *exchangeJSON {
	if ex == nil {
		return nil
	}
	return &exchangeJSON{
		ID:         ex.ID,
		Body:       ex.Body,
		Headers:    ex.Headers,
		Properties: ex.Properties,
		Created:    ex.Created,
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
