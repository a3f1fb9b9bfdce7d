package runtime

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// EventParam is one decoded event parameter or call argument.
type EventParam struct {
	Name  string
	Value Value
}

// Block identifies the block a trigger was emitted in.
type Block struct {
	Hash      common.Hash
	Number    *big.Int
	Timestamp *big.Int
}

// Event is a decoded log. Generated event types embed it.
type Event struct {
	Address     common.Address
	LogIndex    *big.Int
	Block       Block
	Transaction common.Hash
	Parameters  []EventParam
}

// Call is a decoded contract call. Generated call types embed it.
type Call struct {
	From         common.Address
	To           common.Address
	Block        Block
	Transaction  common.Hash
	InputValues  []EventParam
	OutputValues []EventParam
}

// DataSourceContext is passed to a data source created from a template.
type DataSourceContext map[string]Value

// DataSourceCreator instantiates data source templates at runtime.
type DataSourceCreator interface {
	CreateDataSource(ctx context.Context, template string, params []string, dsContext DataSourceContext) error
}
