package chainrpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func rpcServer(t *testing.T, handler func(method string, params []interface{}) (interface{}, *Error)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     int64         `json:"id"`
			Method string        `json:"method"`
			Params []interface{} `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		result, rpcErr := handler(req.Method, req.Params)
		resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func TestGetTxOutcomeConfirmed(t *testing.T) {
	srv := rpcServer(t, func(method string, params []interface{}) (interface{}, *Error) {
		require.Equal(t, "tx_getReceipt", method)
		require.Equal(t, "HASH1", params[0])
		return map[string]interface{}{
			"txHash":    "HASH1",
			"status":    "confirmed",
			"tokenId":   "42",
			"sender":    "terra1f000000000000000000000000000000000000f",
			"timestamp": int64(1700000000),
		}, nil
	})
	defer srv.Close()

	client := NewClient(Config{URL: srv.URL, Contract: "contract1"})
	outcome, err := client.GetTxOutcome(context.Background(), "HASH1")
	require.NoError(t, err)
	require.True(t, outcome.Confirmed)
	require.False(t, outcome.Failed)
	require.False(t, outcome.Pending())
	require.Equal(t, "42", outcome.TokenID)
	require.Equal(t, int64(1700000000), outcome.Timestamp.Unix())
}

func TestGetTxOutcomeFailed(t *testing.T) {
	srv := rpcServer(t, func(method string, params []interface{}) (interface{}, *Error) {
		return map[string]interface{}{
			"txHash": "HASH1",
			"status": "failed",
			"rawLog": "out of gas",
		}, nil
	})
	defer srv.Close()

	client := NewClient(Config{URL: srv.URL})
	outcome, err := client.GetTxOutcome(context.Background(), "HASH1")
	require.NoError(t, err)
	require.True(t, outcome.Failed)
	require.Equal(t, "out of gas", outcome.Error)
}

func TestGetTxOutcomeNotIndexedYet(t *testing.T) {
	srv := rpcServer(t, func(method string, params []interface{}) (interface{}, *Error) {
		return nil, &Error{Code: codeTxNotFound, Message: "tx not found"}
	})
	defer srv.Close()

	client := NewClient(Config{URL: srv.URL})
	outcome, err := client.GetTxOutcome(context.Background(), "HASH1")
	require.NoError(t, err)
	require.True(t, outcome.Pending())
}

func TestGetTxOutcomeSurfacesOtherErrors(t *testing.T) {
	srv := rpcServer(t, func(method string, params []interface{}) (interface{}, *Error) {
		return nil, &Error{Code: -32601, Message: "method not found"}
	})
	defer srv.Close()

	client := NewClient(Config{URL: srv.URL})
	_, err := client.GetTxOutcome(context.Background(), "HASH1")
	require.Error(t, err)
	var rpcErr *Error
	require.ErrorAs(t, err, &rpcErr)
	require.Equal(t, -32601, rpcErr.Code)
}

func TestTokenOwner(t *testing.T) {
	srv := rpcServer(t, func(method string, params []interface{}) (interface{}, *Error) {
		require.Equal(t, "nft_ownerOf", method)
		require.Equal(t, "contract1", params[0])
		require.Equal(t, "42", params[1])
		return map[string]interface{}{"owner": "terra1f000000000000000000000000000000000000f"}, nil
	})
	defer srv.Close()

	client := NewClient(Config{URL: srv.URL, Contract: "contract1"})
	owner, err := client.TokenOwner(context.Background(), "42")
	require.NoError(t, err)
	require.Equal(t, "terra1f000000000000000000000000000000000000f", owner)
}
