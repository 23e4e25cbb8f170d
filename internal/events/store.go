package events

// BlockAdded is emitted when the store head advances to a new block.
type BlockAdded struct {
	Number  uint64
	Hash    string
	Changes int
}
