package library

// Plan is the per-book conversion decision.
type Plan string

const (
	PlanSkipHasM4B       Plan = "skip_has_m4b"
	PlanSkipEmpty        Plan = "skip_empty"
	PlanConvertMP3       Plan = "convert_mp3"
	PlanConvertSingleM4A Plan = "convert_single_m4a"
	PlanConvertMultiM4A  Plan = "convert_multi_m4a"
)

// Converts reports whether the plan produces a new .m4b.
func (p Plan) Converts() bool {
	switch p {
	case PlanConvertMP3, PlanConvertSingleM4A, PlanConvertMultiM4A:
		return true
	default:
		return false
	}
}

// Remux reports whether the plan takes the stream-copy path.
func (p Plan) Remux() bool {
	return p == PlanConvertSingleM4A
}

// Classification is the plan plus the source files it consumes.
type Classification struct {
	Plan Plan
	// Sources are the base names of the consumed files, in directory order.
	// Callers order them with a Comparator before merging.
	Sources []string
	// IgnoredM4A is set when MP3s win over M4As that are also present.
	IgnoredM4A bool
}

// Classify decides what to do with a book folder. An existing .m4b always wins;
// otherwise MP3s win over M4As.
func Classify(book BookFolder) Classification {
	switch {
	case len(book.M4B) > 0:
		return Classification{Plan: PlanSkipHasM4B}
	case len(book.MP3) == 0 && len(book.M4A) == 0:
		return Classification{Plan: PlanSkipEmpty}
	case len(book.MP3) > 0:
		return Classification{
			Plan:       PlanConvertMP3,
			Sources:    append([]string(nil), book.MP3...),
			IgnoredM4A: len(book.M4A) > 0,
		}
	case len(book.M4A) == 1:
		return Classification{Plan: PlanConvertSingleM4A, Sources: []string{book.M4A[0]}}
	default:
		return Classification{Plan: PlanConvertMultiM4A, Sources: append([]string(nil), book.M4A...)}
	}
}
