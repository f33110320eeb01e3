package normalizer

import "strings"

// OtherChannel is the normalized value for anything outside the known
// update-channel vocabulary.
const OtherChannel = "Other"

var knownChannels = map[string]struct{}{
	"release": {},
	"beta":    {},
	"aurora":  {},
	"nightly": {},
	"esr":     {},
	"default": {},
}

// NormalizeChannel maps a raw update-channel string onto the small
// canonical vocabulary downstream aggregations group by. Versioned esr
// channels collapse to "esr" and partner nightly builds to "nightly";
// everything unrecognized becomes "Other".
func NormalizeChannel(raw string) string {
	if _, ok := knownChannels[raw]; ok {
		return raw
	}
	if strings.HasPrefix(raw, "esr") {
		return "esr"
	}
	if strings.HasPrefix(raw, "nightly-cck-") {
		return "nightly"
	}
	return OtherChannel
}
