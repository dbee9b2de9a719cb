package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// HostType identifies who is hosting a stream.
type HostType string

const (
	HostSeller    HostType = "seller"
	HostAffiliate HostType = "affiliate"
)

// StreamStatusEnded is the status carried by streamStatusUpdate when a broadcast finishes.
const StreamStatusEnded = "ended"

// StreamSession identifies one live or ended broadcast as seen by a viewer.
type StreamSession struct {
	ID          string          `json:"id"`
	Title       string          `json:"title,omitempty"`
	Status      string          `json:"status,omitempty"`
	HostType    HostType        `json:"hostType,omitempty"`
	AffiliateID string          `json:"affiliateId,omitempty"`
	HLSURL      string          `json:"hlsUrl"`
	ViewerCount int             `json:"viewerCount"`
	Products    []StreamProduct `json:"products"`
}

// Identity is the product/screen agnostic part of a session handed to the PiP host.
type Identity struct {
	ID          string   `json:"id"`
	Title       string   `json:"title,omitempty"`
	HostType    HostType `json:"hostType,omitempty"`
	AffiliateID string   `json:"affiliateId,omitempty"`
	HLSURL      string   `json:"hlsUrl"`
	ViewerCount int      `json:"viewerCount"`
}

// Identity returns a copy of the session without its product list.
func (s StreamSession) Identity() Identity {
	return Identity{
		ID:          s.ID,
		Title:       s.Title,
		HostType:    s.HostType,
		AffiliateID: s.AffiliateID,
		HLSURL:      s.HLSURL,
		ViewerCount: s.ViewerCount,
	}
}

// Clone returns a deep copy safe to hand to another goroutine.
func (s StreamSession) Clone() StreamSession {
	out := s
	if s.Products != nil {
		out.Products = make([]StreamProduct, len(s.Products))
		for i, p := range s.Products {
			out.Products[i] = p.Clone()
		}
	}
	return out
}

// Product is the catalog part of a stream product.
type Product struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Price  decimal.Decimal `json:"price"`
	Stock  int             `json:"stock"`
	Images []string        `json:"images,omitempty"`
}

// StreamProduct is a product attached to a stream, optionally with a live-only price.
type StreamProduct struct {
	ID           string           `json:"id"`
	Product      Product          `json:"product"`
	SpecialPrice *decimal.Decimal `json:"specialPrice,omitempty"`
	IsActive     bool             `json:"isActive"`
}

// Clone returns a deep copy of the product entry.
func (p StreamProduct) Clone() StreamProduct {
	out := p
	if p.Product.Images != nil {
		out.Product.Images = append([]string(nil), p.Product.Images...)
	}
	if p.SpecialPrice != nil {
		sp := *p.SpecialPrice
		out.SpecialPrice = &sp
	}
	return out
}

// ChatMessage is one entry of the live chat log.
type ChatMessage struct {
	ID       string    `json:"id"`
	Username string    `json:"username"`
	Message  string    `json:"message"`
	SentAt   time.Time `json:"sentAt"`
	Badge    string    `json:"badge,omitempty"`
}
