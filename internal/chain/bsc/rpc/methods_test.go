package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetBalance(t *testing.T) {
	t.Parallel()

	client := newTestClient(Config{}, func(r *http.Request) (*http.Response, error) {
		var req Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "eth_getBalance", req.Method)
		assert.Equal(t, []any{"0xaaa", "pending"}, req.Params)
		return httpResponse(http.StatusOK, `{"jsonrpc":"2.0","id":1,"result":"0x1f4"}`), nil
	})

	v, err := client.GetBalance(context.Background(), "0xaaa", "pending")
	require.NoError(t, err)
	assert.Equal(t, int64(500), v.Int64())
}

func TestCall_EmptyReturnData(t *testing.T) {
	t.Parallel()

	client := newTestClient(Config{}, resultResponder(t, "eth_call", `"0x"`))
	data, err := client.Call(context.Background(), CallMsg{To: "0xcontract", Data: "0x70a08231"}, "latest")
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestGetLogs(t *testing.T) {
	t.Parallel()

	client := newTestClient(Config{}, func(r *http.Request) (*http.Response, error) {
		var req struct {
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "eth_getLogs", req.Method)
		require.Len(t, req.Params, 1)
		assert.JSONEq(t, `{"fromBlock":"0x64","toBlock":"0x67","address":["0xc"],"topics":["0xt",null,["0xa"]]}`, string(req.Params[0]))

		return httpResponse(http.StatusOK, `{"jsonrpc":"2.0","id":1,"result":[{"address":"0xc","topics":["0xt"],"data":"0x","blockNumber":"0x66","transactionHash":"0xT1","logIndex":"0x0"}]}`), nil
	})

	logs, err := client.GetLogs(context.Background(), LogFilter{
		FromBlock: "0x64",
		ToBlock:   "0x67",
		Address:   []string{"0xc"},
		Topics:    []any{"0xt", nil, []string{"0xa"}},
	})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "0x66", logs[0].BlockNumber)
	assert.Equal(t, "0xT1", logs[0].TransactionHash)
}

func TestGetTransactionByHash(t *testing.T) {
	t.Parallel()

	t.Run("mined", func(t *testing.T) {
		t.Parallel()
		client := newTestClient(Config{}, resultResponder(t, "eth_getTransactionByHash",
			`{"hash":"0xT1","blockNumber":"0x66","blockHash":"0xB","transactionIndex":"0x2","from":"0xf","value":"0x0"}`))
		tx, err := client.GetTransactionByHash(context.Background(), "0xT1")
		require.NoError(t, err)
		require.NotNil(t, tx)
		require.NotNil(t, tx.BlockNumber)
		assert.Equal(t, "0x66", *tx.BlockNumber)
	})

	t.Run("pending", func(t *testing.T) {
		t.Parallel()
		client := newTestClient(Config{}, resultResponder(t, "eth_getTransactionByHash",
			`{"hash":"0xT1","blockNumber":null,"blockHash":null,"transactionIndex":null,"from":"0xf","value":"0x0"}`))
		tx, err := client.GetTransactionByHash(context.Background(), "0xT1")
		require.NoError(t, err)
		require.NotNil(t, tx)
		assert.Nil(t, tx.BlockNumber)
	})

	t.Run("unknown", func(t *testing.T) {
		t.Parallel()
		client := newTestClient(Config{}, resultResponder(t, "eth_getTransactionByHash", `null`))
		tx, err := client.GetTransactionByHash(context.Background(), "0xT1")
		require.NoError(t, err)
		assert.Nil(t, tx)
	})
}

func TestBlockNumber_InvalidHex(t *testing.T) {
	t.Parallel()

	client := newTestClient(Config{}, resultResponder(t, "eth_blockNumber", `"103"`))
	_, err := client.BlockNumber(context.Background())
	assert.Error(t, err)
}
