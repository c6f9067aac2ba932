package common

const (
	ComponentEngine      = "engine"
	ComponentScanner     = "scanner"
	ComponentSubscriber  = "subscriber"
	ComponentMatcher     = "matcher"
	ComponentDecoder     = "decoder"
	ComponentCursorStore = "cursor-store"
	ComponentLedger      = "ledger"
	ComponentOrderStore  = "order-store"
	ComponentSweeper     = "sweeper"
	ComponentMaintenance = "maintenance"
	ComponentRPC         = "rpc"
	ComponentAPI         = "api"
)

var AllComponents = map[string]struct{}{
	ComponentEngine:      {},
	ComponentScanner:     {},
	ComponentSubscriber:  {},
	ComponentMatcher:     {},
	ComponentDecoder:     {},
	ComponentCursorStore: {},
	ComponentLedger:      {},
	ComponentOrderStore:  {},
	ComponentSweeper:     {},
	ComponentMaintenance: {},
	ComponentRPC:         {},
	ComponentAPI:         {},
}
