package symbols

import "sort"

// Universe represents a predefined stock universe
type Universe string

const (
	UniverseWatchlist Universe = "idx-watchlist"
	UniverseLQ45      Universe = "lq45"
	UniverseTest      Universe = "test" // Small set for testing
)

var universes = map[Universe][]string{
	UniverseWatchlist: WatchlistSymbols,
	UniverseLQ45:      LQ45Symbols,
	UniverseTest:      TestSymbols,
}

// GetUniverse returns the list of symbols for a given universe
func GetUniverse(u Universe) []string {
	syms, ok := universes[u]
	if !ok {
		return nil
	}
	out := make([]string, len(syms))
	copy(out, syms)
	return out
}

// Universes lists the built-in universe names
func Universes() []Universe {
	names := make([]Universe, 0, len(universes))
	for u := range universes {
		names = append(names, u)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// TestSymbols is a small set for quick testing
var TestSymbols = []string{"BBCA", "TLKM", "ASII"}

// WatchlistSymbols is the default dashboard watchlist
var WatchlistSymbols = []string{
	"BBCA", "BBRI", "BMRI", "TLKM", "ASII", "MDKA", "BUKA", "GOTO", "ADRO",
}

// LQ45Symbols is the IDX LQ45 index constituents (Feb–Jul 2024 period)
var LQ45Symbols = []string{
	"ACES", "ADRO", "AKRA", "AMRT", "ANTM", "ARTO", "ASII", "BBCA", "BBNI", "BBRI",
	"BBTN", "BMRI", "BRIS", "BRPT", "BUKA", "CPIN", "ESSA", "EXCL", "GGRM", "GOTO",
	"HRUM", "ICBP", "INCO", "INDF", "INKP", "INTP", "ISAT", "ITMG", "KLBF", "MAPI",
	"MBMA", "MDKA", "MEDC", "MTEL", "PGAS", "PGEO", "PTBA", "SIDO", "SMGR", "SRTG",
	"TLKM", "TOWR", "UNTR", "UNVR", "AMMN",
}
