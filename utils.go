package blurchat

import (
	"sort"
	"strconv"
	"strings"

	"github.com/cosmos/cosmos-sdk/types/bech32"
	"github.com/zeebo/xxh3"
)

const (
	// IdentityPrefix is the bech32 human readable part of identities.
	IdentityPrefix = "blr"

	MinHandle = 10
	MaxHandle = 99

	DisplaySeparator = "#"

	// DirectoryJWTSubject is the subject of tokens accepted by the directory.
	DirectoryJWTSubject = "blurchat.directory"
)

// IsHandle reports whether s is a 2-digit PIN without leading zero.
func IsHandle(s string) bool {
	if len(s) != 2 || s[0] == '0' {
		return false
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return false
	}
	return n >= MinHandle && n <= MaxHandle
}

// FormatHandle renders n as a handle. The caller keeps n within range.
func FormatHandle(n int) string {
	return strconv.Itoa(n)
}

func IsIdentity(s string) bool {
	if len(s) != 42 || !strings.HasPrefix(s, IdentityPrefix+"1") {
		return false
	}
	hrp, data, err := bech32.DecodeAndConvert(s)
	if err != nil {
		return false
	}
	return hrp == IdentityPrefix && len(data) == 20
}

// DirectRoomID derives the room used between two identities. Both sides
// compute the same id regardless of who creates the room.
func DirectRoomID(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return "dm-" + strconv.FormatUint(xxh3.HashString(pair[0]+"|"+pair[1]), 16)
}

// ComposeDisplayName joins a handle and a label; an empty label yields the handle.
func ComposeDisplayName(handle, label string) string {
	if label == "" {
		return handle
	}
	return handle + DisplaySeparator + label
}
