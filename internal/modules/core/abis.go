package core

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Minimal ABIs with only the events and views the pipeline touches

const ERC20ABI = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true,  "name": "from",  "type": "address"},
      {"indexed": true,  "name": "to",    "type": "address"},
      {"indexed": false, "name": "value", "type": "uint256"}
    ],
    "name": "Transfer",
    "type": "event"
  },
  {"constant": true, "inputs": [], "name": "decimals", "outputs": [{"name": "", "type": "uint8"}], "stateMutability": "view", "type": "function"}
]`

const UniswapV2PairABI = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true,  "name": "sender",  "type": "address"},
      {"indexed": false, "name": "amount0", "type": "uint256"},
      {"indexed": false, "name": "amount1", "type": "uint256"}
    ],
    "name": "Mint",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true,  "name": "sender",     "type": "address"},
      {"indexed": false, "name": "amount0In",  "type": "uint256"},
      {"indexed": false, "name": "amount1In",  "type": "uint256"},
      {"indexed": false, "name": "amount0Out", "type": "uint256"},
      {"indexed": false, "name": "amount1Out", "type": "uint256"},
      {"indexed": true,  "name": "to",         "type": "address"}
    ],
    "name": "Swap",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": false, "name": "reserve0", "type": "uint112"},
      {"indexed": false, "name": "reserve1", "type": "uint112"}
    ],
    "name": "Sync",
    "type": "event"
  },
  {"constant": true, "inputs": [], "name": "token0", "outputs": [{"name": "", "type": "address"}], "stateMutability": "view", "type": "function"},
  {"constant": true, "inputs": [], "name": "token1", "outputs": [{"name": "", "type": "address"}], "stateMutability": "view", "type": "function"}
]`

var (
	ERC20  = mustABI("ERC20", ERC20ABI)
	PairV2 = mustABI("pair", UniswapV2PairABI)
)

func mustABI(name, raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("failed to parse %s ABI: %v", name, err))
	}
	return parsed
}

// Topic0 of the events above.
var (
	TransferTopic = ERC20.Events["Transfer"].ID
	MintTopic     = PairV2.Events["Mint"].ID
	SwapTopic     = PairV2.Events["Swap"].ID
	SyncTopic     = PairV2.Events["Sync"].ID
)
