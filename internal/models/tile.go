package models

import "fmt"

// TileKey addresses a single map tile in the blob store.
type TileKey struct {
	SourceID string `json:"source_id"`
	Z        int    `json:"z"`
	X        int    `json:"x"`
	Y        int    `json:"y"`
}

func (k TileKey) String() string {
	return fmt.Sprintf("%s/%d/%d/%d", k.SourceID, k.Z, k.X, k.Y)
}

// Tile is a fetched tile ready to be written.
type Tile struct {
	Key  TileKey `json:"key"`
	Data []byte  `json:"data"`
}

// TileRef is a stored tile's key plus its size, used when returning bytes to
// the quota ledger on deletion.
type TileRef struct {
	Key       TileKey
	SizeBytes int64
}
