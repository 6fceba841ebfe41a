package stockmove

import (
	"stockmatch/internal/core/entity"
	"stockmatch/internal/core/numerator"
)

const (
	// NumeratorStrategy defines the numbering strategy for stock documents.
	// Stock documents are primary accounting documents, so we use Strict strategy.
	NumeratorStrategy = numerator.StrategyStrict
)

// numberPrefixes maps movement kinds to document number prefixes.
var numberPrefixes = map[entity.MovementKind]string{
	entity.KindPurchase:              "PUR",
	entity.KindPurchaseReturn:        "PRT",
	entity.KindSale:                  "SAL",
	entity.KindSaleReturn:            "SRT",
	entity.KindProductionOutput:      "PRO",
	entity.KindProductionConsumption: "PRC",
	entity.KindProductionReturn:      "PRR",
	entity.KindInternalTransfer:      "TRF",
	entity.KindScrap:                 "SCR",
	entity.KindInventory:             "INV",
}

// NumberConfig returns the numbering configuration of a document kind.
func NumberConfig(kind entity.MovementKind) numerator.Config {
	prefix, ok := numberPrefixes[kind]
	if !ok {
		prefix = "SM"
	}
	return numerator.DefaultConfig(prefix)
}
