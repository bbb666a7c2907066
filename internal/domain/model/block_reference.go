package model

import (
	"encoding/json"
	"fmt"
	"strconv"
)

const (
	blockParamNumber  = "blockNumber"
	blockParamPending = "pending"
)

// BlockReference is either a concrete block height or the pending
// (mempool) sentinel. The zero value is pending.
type BlockReference struct {
	concrete bool
	height   uint64
}

func PendingBlock() BlockReference {
	return BlockReference{}
}

func AtHeight(h uint64) BlockReference {
	return BlockReference{concrete: true, height: h}
}

func (r BlockReference) IsPending() bool {
	return !r.concrete
}

// Height returns the concrete height and false for pending.
func (r BlockReference) Height() (uint64, bool) {
	return r.height, r.concrete
}

// Compare orders references by how confirmed they are: pending sorts before
// every concrete height.
func (r BlockReference) Compare(o BlockReference) int {
	switch {
	case !r.concrete && !o.concrete:
		return 0
	case !r.concrete:
		return -1
	case !o.concrete:
		return 1
	case r.height < o.height:
		return -1
	case r.height > o.height:
		return 1
	default:
		return 0
	}
}

// RPCParam is the JSON-RPC block parameter ("pending" or a 0x quantity).
func (r BlockReference) RPCParam() string {
	if !r.concrete {
		return blockParamPending
	}
	return "0x" + strconv.FormatUint(r.height, 16)
}

func (r BlockReference) String() string {
	if !r.concrete {
		return blockParamPending
	}
	return strconv.FormatUint(r.height, 10)
}

type blockReferenceJSON struct {
	ParameterType string `json:"parameterType"`
	BlockNumber   uint64 `json:"blockNumber,omitempty"`
}

func (r BlockReference) MarshalJSON() ([]byte, error) {
	if !r.concrete {
		return json.Marshal(blockReferenceJSON{ParameterType: blockParamPending})
	}
	return json.Marshal(blockReferenceJSON{ParameterType: blockParamNumber, BlockNumber: r.height})
}

func (r *BlockReference) UnmarshalJSON(data []byte) error {
	var raw blockReferenceJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch raw.ParameterType {
	case blockParamPending, "":
		*r = PendingBlock()
	case blockParamNumber:
		*r = AtHeight(raw.BlockNumber)
	default:
		return fmt.Errorf("unknown block parameter type %q", raw.ParameterType)
	}
	return nil
}
