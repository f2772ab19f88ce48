package exchange

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Pebble key schema. Prefix-based so each table loads with one range scan;
// numeric ids are zero-padded for lexicographic ordering.
const (
	prefixOrder     = "ord:"
	prefixCancelled = "cancel:"
	prefixFilled    = "fill:"
	prefixBalance   = "bal:"
	prefixEvent     = "evt:"
	prefixTrade     = "trd:"

	keyOrderCount = "meta:ordercount"
	keyEventSeq   = "meta:eventseq"
)

// orderKey formats "ord:{id:020d}".
func orderKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixOrder, id))
}

func cancelledKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixCancelled, id))
}

func filledKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixFilled, id))
}

// balanceKey formats "bal:{asset}:{user}".
func balanceStoreKey(asset, user common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixBalance, asset.Hex(), user.Hex()))
}

// balanceKeyFromBytes is the inverse of balanceStoreKey.
func balanceKeyFromBytes(key []byte) (asset, user common.Address, err error) {
	rest := strings.TrimPrefix(string(key), prefixBalance)
	parts := strings.Split(rest, ":")
	if len(parts) != 2 || !common.IsHexAddress(parts[0]) || !common.IsHexAddress(parts[1]) {
		return common.Address{}, common.Address{}, fmt.Errorf("malformed balance key %q", key)
	}
	return common.HexToAddress(parts[0]), common.HexToAddress(parts[1]), nil
}

func eventKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixEvent, seq))
}

func tradeKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixTrade, seq))
}

// idFromKey extracts the zero-padded id suffix of a marker key.
func idFromKey(key []byte, prefix string) (uint64, error) {
	var id uint64
	if _, err := fmt.Sscanf(strings.TrimPrefix(string(key), prefix), "%d", &id); err != nil {
		return 0, fmt.Errorf("malformed key %q: %w", key, err)
	}
	return id, nil
}

// keyUpperBound returns the exclusive upper bound for a prefix scan:
// the prefix with its last non-0xff byte incremented. A prefix of all
// 0xff bytes has no upper bound and yields nil (unbounded iteration).
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	for i := len(bound) - 1; i >= 0; i-- {
		if bound[i] != 0xff {
			bound[i]++
			return bound[:i+1]
		}
	}
	return nil
}
