package token

// Kind is the classification assigned to a token contract address. Once a
// non-Unknown kind is cached for an address it is treated as append-only
// truth and never re-probed.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindFungible
	KindUniqueSingleOwner
	KindUniqueMultiBalance
)

// Valid reports whether the kind value is within the supported range.
func (k Kind) Valid() bool {
	switch k {
	case KindUnknown, KindFungible, KindUniqueSingleOwner, KindUniqueMultiBalance:
		return true
	default:
		return false
	}
}

func (k Kind) String() string {
	switch k {
	case KindFungible:
		return "fungible"
	case KindUniqueSingleOwner:
		return "unique_single_owner"
	case KindUniqueMultiBalance:
		return "unique_multi_balance"
	default:
		return "unknown"
	}
}
