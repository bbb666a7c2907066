package bsc

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/emperorhan/bsc-payment-watcher/internal/chain/bsc/rpc"
	"github.com/emperorhan/bsc-payment-watcher/internal/domain/model"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// TransferTopic is topic[0] of the BEP20/ERC20 Transfer event.
var TransferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// balanceOfSelector is the 4-byte selector of balanceOf(address).
var balanceOfSelector = crypto.Keccak256([]byte("balanceOf(address)"))[:4]

var errNotTransfer = errors.New("log is not a fungible Transfer")

// addressTopic left-pads an address to a 32-byte topic.
func addressTopic(address string) string {
	return common.BytesToHash(common.HexToAddress(address).Bytes()).Hex()
}

func balanceOfCalldata(holder string) string {
	data := make([]byte, 0, 4+32)
	data = append(data, balanceOfSelector...)
	data = append(data, common.LeftPadBytes(common.HexToAddress(holder).Bytes(), 32)...)
	return hexutil.Encode(data)
}

// decodeTransfer turns a raw Transfer log into an observation. ERC721
// transfers carry the token id as a fourth topic and are rejected.
func decodeTransfer(chainID model.ChainID, coin model.Coin, l rpc.Log) (model.TransferObservation, error) {
	if len(l.Topics) != 3 || !strings.EqualFold(l.Topics[0], TransferTopic.Hex()) {
		return model.TransferObservation{}, errNotTransfer
	}
	data, err := hexutil.Decode(l.Data)
	if err != nil {
		return model.TransferObservation{}, fmt.Errorf("decode data: %w", err)
	}
	height, err := hexutil.DecodeUint64(l.BlockNumber)
	if err != nil {
		return model.TransferObservation{}, fmt.Errorf("decode block number %q: %w", l.BlockNumber, err)
	}
	logIndex, err := hexutil.DecodeUint64(l.LogIndex)
	if err != nil {
		return model.TransferObservation{}, fmt.Errorf("decode log index %q: %w", l.LogIndex, err)
	}
	var txIndex uint64
	if l.TransactionIndex != "" {
		if txIndex, err = hexutil.DecodeUint64(l.TransactionIndex); err != nil {
			return model.TransferObservation{}, fmt.Errorf("decode tx index %q: %w", l.TransactionIndex, err)
		}
	}

	return model.TransferObservation{
		ChainID:     chainID,
		Coin:        coin.Code,
		From:        topicAddress(l.Topics[1]),
		To:          topicAddress(l.Topics[2]),
		Value:       new(big.Int).SetBytes(data),
		Contract:    common.HexToAddress(l.Address).Hex(),
		BlockHash:   l.BlockHash,
		BlockHeight: height,
		LogIndex:    logIndex,
		TxHash:      l.TransactionHash,
		TxIndex:     txIndex,
		Removed:     l.Removed,
	}, nil
}

func topicAddress(topic string) string {
	return common.BytesToAddress(common.HexToHash(topic).Bytes()).Hex()
}
