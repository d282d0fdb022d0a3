package handler

import (
	"stealth/internal/registry/models"
	"stealth/pkg/domain"
)

// EntryResponse is the JSON form of a registry entry.
type EntryResponse struct {
	Handle      string          `json:"handle"`
	Address     domain.Identity `json:"address"`
	Authority   domain.Identity `json:"authority"`
	Destination domain.Identity `json:"destination"`
	Bump        uint8           `json:"bump"`
}

// ResolveResponse answers GET /v1/resolve/{name}.
type ResolveResponse struct {
	Name        string          `json:"name"`
	Handle      string          `json:"handle"`
	Destination domain.Identity `json:"destination"`
}

func FromEntry(e *models.Entry) *EntryResponse {
	return &EntryResponse{
		Handle:      e.Handle,
		Address:     e.Address,
		Authority:   e.Authority,
		Destination: e.Destination,
		Bump:        e.Bump,
	}
}
