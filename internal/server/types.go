package server

import (
	"time"

	cr "github.com/n3c4s/alohomora/internal/crypto"
	"github.com/n3c4s/alohomora/internal/device"
)

type errorResp struct {
	Error string `json:"error"`
}

type passwordReq struct {
	Password string `json:"password"`
}

type masterStatusResp struct {
	Initialized bool `json:"initialized"`
	Unlocked    bool `json:"unlocked"`
}

type generateReq struct {
	Length         int  `json:"length"`
	Upper          bool `json:"uppercase"`
	Lower          bool `json:"lowercase"`
	Numbers        bool `json:"numbers"`
	Symbols        bool `json:"symbols"`
	ExcludeSimilar bool `json:"exclude_similar"`
}

func (g generateReq) options() cr.PasswordOptions {
	if !g.Upper && !g.Lower && !g.Numbers && !g.Symbols {
		o := cr.DefaultPasswordOptions()
		if g.Length > 0 {
			o.Length = g.Length
		}
		o.ExcludeSimilar = g.ExcludeSimilar
		return o
	}
	return cr.PasswordOptions{
		Length:         g.Length,
		Upper:          g.Upper,
		Lower:          g.Lower,
		Numbers:        g.Numbers,
		Symbols:        g.Symbols,
		ExcludeSimilar: g.ExcludeSimilar,
	}
}

type resolveReq struct {
	Resolution string `json:"resolution"`
}

// OfferRequest is posted by a peer that wants to open a connection.
type OfferRequest struct {
	Device *device.Info `json:"device"`
	Offer  string       `json:"offer"`
}

type OfferResponse struct {
	Answer string `json:"answer"`
}

type auditEntryResp struct {
	At      time.Time `json:"at"`
	Action  string    `json:"action"`
	Subject string    `json:"subject,omitempty"`
	Hash    string    `json:"hash"`
}
