// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-frostsigner.
//
// go-frostsigner is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package wallet

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jeremyhahn/go-frostsigner/pkg/adapters/logger"
	"github.com/jeremyhahn/go-frostsigner/pkg/types"
)

const maxResponseBytes = 4 << 20

// Utxo is an unspent output of an address.
type Utxo struct {
	TxID   string     `json:"txid"`
	Vout   uint32     `json:"vout"`
	Value  int64      `json:"value"`
	Status UtxoStatus `json:"status"`
}

// UtxoStatus is the confirmation state of a Utxo.
type UtxoStatus struct {
	Confirmed   bool   `json:"confirmed"`
	BlockHeight int64  `json:"block_height,omitempty"`
	BlockHash   string `json:"block_hash,omitempty"`
	BlockTime   int64  `json:"block_time,omitempty"`
}

// UtxoSource lists unspent outputs.
type UtxoSource interface {
	Utxos(ctx context.Context, address string) ([]Utxo, error)
}

// Esplora is a UtxoSource backed by an Esplora-compatible HTTP API.
type Esplora struct {
	base   string
	client *http.Client
	log    logger.Logger
}

// NewEsplora returns a client for the API rooted at baseURL, for example
// https://mempool.space/api.
func NewEsplora(baseURL string, timeout time.Duration, log logger.Logger) (*Esplora, error) {
	u, err := url.Parse(baseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("invalid esplora URL %q", baseURL)
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if log == nil {
		log = logger.Default()
	}
	return &Esplora{
		base:   strings.TrimRight(baseURL, "/"),
		client: &http.Client{Timeout: timeout},
		log:    log,
	}, nil
}

// Utxos implements UtxoSource.
func (e *Esplora) Utxos(ctx context.Context, address string) ([]Utxo, error) {
	endpoint := e.base + "/address/" + url.PathEscape(address) + "/utxo"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: esplora: %v", types.ErrBackend, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: esplora: read body: %v", types.ErrBackend, err)
	}

	switch {
	case resp.StatusCode == http.StatusBadRequest:
		return nil, fmt.Errorf("%w: esplora rejected address: %s", types.ErrMalformedInput, strings.TrimSpace(string(body)))
	case resp.StatusCode != http.StatusOK:
		e.log.Warn("esplora request failed", logger.Int("status", resp.StatusCode))
		return nil, fmt.Errorf("%w: esplora returned %d", types.ErrBackend, resp.StatusCode)
	}

	var utxos []Utxo
	if err := json.Unmarshal(body, &utxos); err != nil {
		return nil, fmt.Errorf("%w: esplora: decode: %v", types.ErrBackend, err)
	}
	if utxos == nil {
		utxos = []Utxo{}
	}
	return utxos, nil
}

var _ UtxoSource = (*Esplora)(nil)
