package network

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/novix-pay/novix-go/pkg/types"
)

// ChainID represents an EVM chain ID
type ChainID uint64

const (
	ChainIDEtherlink        ChainID = 42793
	ChainIDEtherlinkTestnet ChainID = 128123
	ChainIDBaseSepolia      ChainID = 84532
	ChainIDBase             ChainID = 8453
	ChainIDAvalancheFuji    ChainID = 43113
	ChainIDAvalanche        ChainID = 43114
	ChainIDPolygonAmoy      ChainID = 80002
	ChainIDPolygon          ChainID = 137
)

// NetworkInfo contains metadata about a network
type NetworkInfo struct {
	Network types.Network
	ChainID ChainID
	Name    string
}

// AssetDeployment describes a fungible-token deployment accepted for payment
// on a network, including the EIP-712 domain its authorizations are signed
// under.
type AssetDeployment struct {
	Network      types.Network
	TokenAddress common.Address
	TokenSymbol  string
	Decimals     uint8
	EIP712       types.EIP712Extra
}

var (
	// NetworkInfoMap maps network names to their information
	NetworkInfoMap = map[types.Network]NetworkInfo{
		types.NetworkEtherlink: {
			Network: types.NetworkEtherlink,
			ChainID: ChainIDEtherlink,
			Name:    "Etherlink",
		},
		types.NetworkEtherlinkTestnet: {
			Network: types.NetworkEtherlinkTestnet,
			ChainID: ChainIDEtherlinkTestnet,
			Name:    "Etherlink Testnet",
		},
		types.NetworkBaseSepolia: {
			Network: types.NetworkBaseSepolia,
			ChainID: ChainIDBaseSepolia,
			Name:    "Base Sepolia",
		},
		types.NetworkBase: {
			Network: types.NetworkBase,
			ChainID: ChainIDBase,
			Name:    "Base",
		},
		types.NetworkAvalancheFuji: {
			Network: types.NetworkAvalancheFuji,
			ChainID: ChainIDAvalancheFuji,
			Name:    "Avalanche Fuji",
		},
		types.NetworkAvalanche: {
			Network: types.NetworkAvalanche,
			ChainID: ChainIDAvalanche,
			Name:    "Avalanche C-Chain",
		},
		types.NetworkPolygonAmoy: {
			Network: types.NetworkPolygonAmoy,
			ChainID: ChainIDPolygonAmoy,
			Name:    "Polygon Amoy",
		},
		types.NetworkPolygon: {
			Network: types.NetworkPolygon,
			ChainID: ChainIDPolygon,
			Name:    "Polygon",
		},
	}

	// USDCDeployments maps networks to their USDC token deployments
	USDCDeployments = map[types.Network]AssetDeployment{
		types.NetworkEtherlinkTestnet: {
			Network:      types.NetworkEtherlinkTestnet,
			TokenAddress: common.HexToAddress("0xe3A01f57C76B6bdf926618C910E546F794ff6dd4"),
			TokenSymbol:  "USDC",
			Decimals:     6,
			EIP712:       types.EIP712Extra{Name: "USD Coin", Version: "2"},
		},
		types.NetworkBaseSepolia: {
			Network:      types.NetworkBaseSepolia,
			TokenAddress: common.HexToAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7e"),
			TokenSymbol:  "USDC",
			Decimals:     6,
			EIP712:       types.EIP712Extra{Name: "USDC", Version: "2"},
		},
		types.NetworkBase: {
			Network:      types.NetworkBase,
			TokenAddress: common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"),
			TokenSymbol:  "USDC",
			Decimals:     6,
			EIP712:       types.EIP712Extra{Name: "USD Coin", Version: "2"},
		},
		types.NetworkAvalancheFuji: {
			Network:      types.NetworkAvalancheFuji,
			TokenAddress: common.HexToAddress("0x5425890298aed601595a70AB815c96711a31Bc65"),
			TokenSymbol:  "USDC",
			Decimals:     6,
			EIP712:       types.EIP712Extra{Name: "USD Coin", Version: "2"},
		},
		types.NetworkAvalanche: {
			Network:      types.NetworkAvalanche,
			TokenAddress: common.HexToAddress("0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E"),
			TokenSymbol:  "USDC",
			Decimals:     6,
			EIP712:       types.EIP712Extra{Name: "USD Coin", Version: "2"},
		},
		types.NetworkPolygonAmoy: {
			Network:      types.NetworkPolygonAmoy,
			TokenAddress: common.HexToAddress("0x41e94eb019c0762f9bfcf9fb1e58725bfb0e7582"),
			TokenSymbol:  "USDC",
			Decimals:     6,
			EIP712:       types.EIP712Extra{Name: "USDC", Version: "2"},
		},
		types.NetworkPolygon: {
			Network:      types.NetworkPolygon,
			TokenAddress: common.HexToAddress("0x3c499c542cef5e3811e1192ce70d8cc03d5c3359"),
			TokenSymbol:  "USDC",
			Decimals:     6,
			EIP712:       types.EIP712Extra{Name: "USD Coin", Version: "2"},
		},
	}
)

// GetNetworkInfo returns information about a network
func GetNetworkInfo(network types.Network) (NetworkInfo, error) {
	info, ok := NetworkInfoMap[network]
	if !ok {
		return NetworkInfo{}, fmt.Errorf("unknown network: %s", network)
	}
	return info, nil
}

// GetUSDCDeployment returns the USDC deployment for a network
func GetUSDCDeployment(network types.Network) (AssetDeployment, error) {
	deployment, ok := USDCDeployments[network]
	if !ok {
		return AssetDeployment{}, fmt.Errorf("no USDC deployment for network: %s", network)
	}
	return deployment, nil
}

// GetDeploymentByAsset looks up a deployment on a network by its token
// contract address.
func GetDeploymentByAsset(network types.Network, asset common.Address) (AssetDeployment, error) {
	deployment, ok := USDCDeployments[network]
	if !ok || deployment.TokenAddress != asset {
		return AssetDeployment{}, fmt.Errorf("no known deployment of %s on network %s", asset.Hex(), network)
	}
	return deployment, nil
}

// ChainIDBig returns the chain id of a network as a *big.Int.
func ChainIDBig(network types.Network) (*big.Int, error) {
	info, err := GetNetworkInfo(network)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetUint64(uint64(info.ChainID)), nil
}

// ParseMoney converts a decimal currency string ("1.50", "$1.50") to the
// asset's atomic unit. It is exact: fractional digits beyond the asset's
// precision are rejected rather than rounded.
func ParseMoney(amount string, decimals uint8) (*big.Int, error) {
	s := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(amount), "$"))
	if s == "" {
		return nil, fmt.Errorf("empty amount")
	}

	whole, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > int(decimals) {
		return nil, fmt.Errorf("amount %s exceeds %d decimal places", amount, decimals)
	}
	frac += strings.Repeat("0", int(decimals)-len(frac))

	result, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount: %s", amount)
	}
	if result.Sign() < 0 {
		return nil, fmt.Errorf("negative amount: %s", amount)
	}
	return result, nil
}
