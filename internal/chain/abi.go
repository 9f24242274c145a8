package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Minimal ABIs for the calls the vault makes.

const erc20ABIJSON = `[
 {"type":"function","name":"balanceOf","stateMutability":"view",
  "inputs":[{"name":"account","type":"address"}],
  "outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"transfer","stateMutability":"nonpayable",
  "inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],
  "outputs":[{"name":"","type":"bool"}]},
 {"type":"function","name":"approve","stateMutability":"nonpayable",
  "inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],
  "outputs":[{"name":"","type":"bool"}]}
]`

const erc721ABIJSON = `[
 {"type":"function","name":"ownerOf","stateMutability":"view",
  "inputs":[{"name":"tokenId","type":"uint256"}],
  "outputs":[{"name":"","type":"address"}]},
 {"type":"function","name":"transferFrom","stateMutability":"nonpayable",
  "inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"tokenId","type":"uint256"}],
  "outputs":[]}
]`

const positionManagerABIJSON = `[
 {"type":"function","name":"mint","stateMutability":"payable",
  "inputs":[{"name":"params","type":"tuple","components":[
    {"name":"token0","type":"address"},
    {"name":"token1","type":"address"},
    {"name":"fee","type":"uint24"},
    {"name":"tickLower","type":"int24"},
    {"name":"tickUpper","type":"int24"},
    {"name":"amount0Desired","type":"uint256"},
    {"name":"amount1Desired","type":"uint256"},
    {"name":"amount0Min","type":"uint256"},
    {"name":"amount1Min","type":"uint256"},
    {"name":"recipient","type":"address"},
    {"name":"deadline","type":"uint256"}]}],
  "outputs":[{"name":"tokenId","type":"uint256"},{"name":"liquidity","type":"uint128"},
             {"name":"amount0","type":"uint256"},{"name":"amount1","type":"uint256"}]},
 {"type":"function","name":"increaseLiquidity","stateMutability":"payable",
  "inputs":[{"name":"params","type":"tuple","components":[
    {"name":"tokenId","type":"uint256"},
    {"name":"amount0Desired","type":"uint256"},
    {"name":"amount1Desired","type":"uint256"},
    {"name":"amount0Min","type":"uint256"},
    {"name":"amount1Min","type":"uint256"},
    {"name":"deadline","type":"uint256"}]}],
  "outputs":[{"name":"liquidity","type":"uint128"},
             {"name":"amount0","type":"uint256"},{"name":"amount1","type":"uint256"}]},
 {"type":"function","name":"collect","stateMutability":"payable",
  "inputs":[{"name":"params","type":"tuple","components":[
    {"name":"tokenId","type":"uint256"},
    {"name":"recipient","type":"address"},
    {"name":"amount0Max","type":"uint128"},
    {"name":"amount1Max","type":"uint128"}]}],
  "outputs":[{"name":"amount0","type":"uint256"},{"name":"amount1","type":"uint256"}]},
 {"type":"function","name":"positions","stateMutability":"view",
  "inputs":[{"name":"tokenId","type":"uint256"}],
  "outputs":[
    {"name":"nonce","type":"uint96"},
    {"name":"operator","type":"address"},
    {"name":"token0","type":"address"},
    {"name":"token1","type":"address"},
    {"name":"fee","type":"uint24"},
    {"name":"tickLower","type":"int24"},
    {"name":"tickUpper","type":"int24"},
    {"name":"liquidity","type":"uint128"},
    {"name":"feeGrowthInside0LastX128","type":"uint256"},
    {"name":"feeGrowthInside1LastX128","type":"uint256"},
    {"name":"tokensOwed0","type":"uint128"},
    {"name":"tokensOwed1","type":"uint128"}]},
 {"type":"event","name":"IncreaseLiquidity","anonymous":false,
  "inputs":[{"name":"tokenId","type":"uint256","indexed":true},
            {"name":"liquidity","type":"uint128","indexed":false},
            {"name":"amount0","type":"uint256","indexed":false},
            {"name":"amount1","type":"uint256","indexed":false}]},
 {"type":"event","name":"Collect","anonymous":false,
  "inputs":[{"name":"tokenId","type":"uint256","indexed":true},
            {"name":"recipient","type":"address","indexed":false},
            {"name":"amount0","type":"uint256","indexed":false},
            {"name":"amount1","type":"uint256","indexed":false}]}
]`

var (
	erc20ABI           = mustParseABI(erc20ABIJSON)
	erc721ABI          = mustParseABI(erc721ABIJSON)
	positionManagerABI = mustParseABI(positionManagerABIJSON)
)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic("chain: parse abi: " + err.Error())
	}
	return parsed
}
