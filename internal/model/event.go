package model

// EventKind names an observable engine event.
type EventKind string

const (
	EventLaunch      EventKind = "launch"
	EventTrade       EventKind = "trade"
	EventDeactivated EventKind = "deactivated"
	EventWithdrawal  EventKind = "withdrawal"
)

// Event is the fire-and-forget record handed to off-chain observers.
type Event struct {
	Kind           EventKind `json:"kind"`
	Asset          Address   `json:"asset"`
	Pool           Address   `json:"pool"`
	Trader         Address   `json:"trader"`
	Side           Side      `json:"side,omitempty"`
	VirtualReserve uint64    `json:"virtual_reserve,string"`
	VirtualAsset   uint64    `json:"virtual_asset,string"`
	UnitsSold      uint64    `json:"units_sold,string"`
	ReserveVolume  uint64    `json:"reserve_volume,string"`
	AssetVolume    uint64    `json:"asset_volume,string"`
	TotalMinted    uint64    `json:"total_minted,string,omitempty"`
	Timestamp      int64     `json:"timestamp"`
}
