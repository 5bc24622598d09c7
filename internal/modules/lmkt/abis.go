package lmkt

import (
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/lmkt/candle-indexer/internal/modules/core"
)

// Treasury bonding-curve events
const treasuryABIJSON = `[
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true,  "name": "user",              "type": "address"},
			{"indexed": false, "name": "collateralAmount",  "type": "uint256"},
			{"indexed": false, "name": "lmktAmount",        "type": "uint256"},
			{"indexed": false, "name": "isBuy",             "type": "bool"},
			{"indexed": false, "name": "totalCollateral",   "type": "uint256"},
			{"indexed": false, "name": "circulatingSupply", "type": "uint256"}
		],
		"name": "Swap",
		"type": "event"
	}
]`

// Marketplace events
const marketplaceABIJSON = `[
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true,  "name": "listingId",  "type": "uint256"},
			{"indexed": true,  "name": "buyer",      "type": "address"},
			{"indexed": true,  "name": "seller",     "type": "address"},
			{"indexed": false, "name": "lmktAmount", "type": "uint256"}
		],
		"name": "ItemPurchased",
		"type": "event"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true,  "name": "listingId", "type": "uint256"},
			{"indexed": true,  "name": "payer",     "type": "address"},
			{"indexed": false, "name": "feePaid",   "type": "uint256"}
		],
		"name": "ListingFeePaid",
		"type": "event"
	}
]`

// ERC-20 Transfer on the collateral token
const erc20ABIJSON = `[
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true,  "name": "from",  "type": "address"},
			{"indexed": true,  "name": "to",    "type": "address"},
			{"indexed": false, "name": "value", "type": "uint256"}
		],
		"name": "Transfer",
		"type": "event"
	}
]`

var (
	treasuryABI    = core.MustParseABI(treasuryABIJSON)
	marketplaceABI = core.MustParseABI(marketplaceABIJSON)
	erc20ABI       = core.MustParseABI(erc20ABIJSON)
)

// Event signatures
var (
	SwapTopic           = crypto.Keccak256Hash([]byte("Swap(address,uint256,uint256,bool,uint256,uint256)"))
	ItemPurchasedTopic  = crypto.Keccak256Hash([]byte("ItemPurchased(uint256,address,address,uint256)"))
	ListingFeePaidTopic = crypto.Keccak256Hash([]byte("ListingFeePaid(uint256,address,uint256)"))
	TransferTopic       = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
)
