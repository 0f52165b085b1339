package chainrpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/decred/slog"
)

// rpcServer answers JSON-RPC calls from a method -> result table.
func rpcServer(t *testing.T, results map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     uint64          `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad rpc request: %v", err)
		}
		res, ok := results[req.Method]
		if !ok {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id": req.ID, "error": map[string]any{"code": -32601, "message": "method not found"},
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"id": req.ID, "result": res})
	}))
}

func TestGetLatestLedger(t *testing.T) {
	srv := rpcServer(t, map[string]any{
		"getLatestLedger": map[string]any{"sequence": 1234, "averageCloseTimeSeconds": 5.1},
	})
	defer srv.Close()

	c, err := New(srv.URL, slog.Disabled)
	if err != nil {
		t.Fatal(err)
	}
	ll, err := c.GetLatestLedger(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if ll.Sequence != 1234 || ll.CloseSeconds != 5.1 {
		t.Fatalf("got %+v", ll)
	}
}

func TestGetTransactionStatuses(t *testing.T) {
	for _, want := range []TxStatus{TxNotFound, TxPending, TxSuccess, TxFailed} {
		srv := rpcServer(t, map[string]any{
			"getTransaction": map[string]any{"status": string(want)},
		})
		c, _ := New(srv.URL, slog.Disabled)
		got, err := c.GetTransaction(context.Background(), "deadbeef")
		srv.Close()
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Fatalf("got %s, want %s", got, want)
		}
	}

	srv := rpcServer(t, map[string]any{
		"getTransaction": map[string]any{"status": "WAT"},
	})
	defer srv.Close()
	c, _ := New(srv.URL, slog.Disabled)
	if _, err := c.GetTransaction(context.Background(), "deadbeef"); err == nil {
		t.Fatal("unknown status accepted")
	}
}

func TestGameStateNotFound(t *testing.T) {
	srv := rpcServer(t, map[string]any{
		"getGameState": map[string]any{"found": false},
	})
	defer srv.Close()
	c, _ := New(srv.URL, slog.Disabled)
	_, err := c.GameState(context.Background(), 7)
	if !errors.Is(err, ErrGameNotFound) {
		t.Fatalf("got %v, want ErrGameNotFound", err)
	}
}

func TestGameStateComplete(t *testing.T) {
	srv := rpcServer(t, map[string]any{
		"getGameState": map[string]any{"found": true, "complete": true, "winner": "GBOB", "payout": 20000000},
	})
	defer srv.Close()
	c, _ := New(srv.URL, slog.Disabled)
	gs, err := c.GameState(context.Background(), 7)
	if err != nil {
		t.Fatal(err)
	}
	if !gs.Complete || gs.Winner != "GBOB" || gs.Payout != 20000000 {
		t.Fatalf("got %+v", gs)
	}
}

func TestRPCErrorSurfaces(t *testing.T) {
	srv := rpcServer(t, map[string]any{})
	defer srv.Close()
	c, _ := New(srv.URL, slog.Disabled)
	if _, err := c.GetLatestLedger(context.Background()); err == nil {
		t.Fatal("rpc error swallowed")
	}
}

func TestNewRequiresEndpoint(t *testing.T) {
	if _, err := New("  ", slog.Disabled); err == nil {
		t.Fatal("blank endpoint accepted")
	}
}
