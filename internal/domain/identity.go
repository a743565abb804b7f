package domain

// Identity addresses a participant: a seller, bidder, contract or the
// platform treasury. The engine never interprets the contents; equality is
// the only operation it relies on.
type Identity string

// ZeroIdentity is the absent participant (no bidder yet, unapproved asset).
const ZeroIdentity Identity = ""

// IsZero reports whether the identity is unset.
func (i Identity) IsZero() bool {
	return i == ZeroIdentity
}

// AssetRef names a fungible payment asset by its contract identity.
// The zero value means the native currency.
type AssetRef string

// NativeAsset is the chain-native payment asset (ETH in the original system).
const NativeAsset AssetRef = ""

// IsNative reports whether the asset is the native currency.
func (a AssetRef) IsNative() bool {
	return a == NativeAsset
}

// AssetID identifies a unique asset within its contract.
type AssetID uint64
