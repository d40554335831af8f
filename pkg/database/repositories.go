// Copyright 2025 Archive Origin
//
// Repositories aggregates every repository over a single Client, handed to
// services at startup.

package database

// Repositories bundles all repository instances constructed from one Client.
type Repositories struct {
	Tokens       *TokenRepository
	Captures     *CaptureRepository
	Ledger       *LedgerRepository
	Attestations *AttestationRepository
}

// NewRepositories constructs every repository over client.
func NewRepositories(client *Client) *Repositories {
	return &Repositories{
		Tokens:       NewTokenRepository(client),
		Captures:     NewCaptureRepository(client),
		Ledger:       NewLedgerRepository(client),
		Attestations: NewAttestationRepository(client),
	}
}
