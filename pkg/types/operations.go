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

package types

// Operation is the type of a page request, e.g. "signEvent".
type Operation string

// Privileged operations.
const (
	OpGetPublicKey     Operation = "getPublicKey"
	OpGetRelays        Operation = "getRelays"
	OpSignEvent        Operation = "signEvent"
	OpNip04Encrypt     Operation = "nip04.encrypt"
	OpNip04Decrypt     Operation = "nip04.decrypt"
	OpNip44Encrypt     Operation = "nip44.encrypt"
	OpNip44Decrypt     Operation = "nip44.decrypt"
	OpWalletGetAccount Operation = "wallet.getAccount"
	OpWalletGetUtxos   Operation = "wallet.getUtxos"
	OpWalletSignPsbt   Operation = "wallet.signPsbt"
)

// Exempt operations.
const (
	OpLinkResolve Operation = "link.resolve"
	OpNodeStatus  Operation = "node.status"
	OpNodeReset   Operation = "node.reset"
)

// Domain groups operations by the handler family that serves them.
type Domain string

const (
	DomainSigner  Domain = "signer"
	DomainWallet  Domain = "wallet"
	DomainLink    Domain = "link"
	DomainNode    Domain = "node"
	DomainUnknown Domain = ""
)

// String returns the operation name.
func (o Operation) String() string {
	return string(o)
}

// Domain returns the handler family of the operation.
func (o Operation) Domain() Domain {
	switch o {
	case OpGetPublicKey, OpGetRelays, OpSignEvent,
		OpNip04Encrypt, OpNip04Decrypt, OpNip44Encrypt, OpNip44Decrypt:
		return DomainSigner
	case OpWalletGetAccount, OpWalletGetUtxos, OpWalletSignPsbt:
		return DomainWallet
	case OpLinkResolve:
		return DomainLink
	case OpNodeStatus, OpNodeReset:
		return DomainNode
	default:
		return DomainUnknown
	}
}

// Operations returns every recognized operation.
func Operations() []Operation {
	return []Operation{
		OpGetPublicKey, OpGetRelays, OpSignEvent,
		OpNip04Encrypt, OpNip04Decrypt, OpNip44Encrypt, OpNip44Decrypt,
		OpWalletGetAccount, OpWalletGetUtxos, OpWalletSignPsbt,
		OpLinkResolve, OpNodeStatus, OpNodeReset,
	}
}
