package slice

// Contains reports whether needle is present in haystack.
func Contains[T comparable](haystack []T, needle T) bool {
	for _, hay := range haystack {
		if needle == hay {
			return true
		}
	}
	return false
}

// Insert appends needle to haystack unless it is already present. The
// returned slice preserves the order of existing elements.
func Insert[T comparable](haystack []T, needle T) []T {
	if Contains(haystack, needle) {
		return haystack
	}
	return append(haystack, needle)
}

// Remove returns haystack with every occurrence of needle removed,
// preserving the order of the remaining elements. Removing an absent
// element is a no-op.
func Remove[T comparable](haystack []T, needle T) []T {
	out := make([]T, 0, len(haystack))
	for _, hay := range haystack {
		if hay != needle {
			out = append(out, hay)
		}
	}
	return out
}

// Unique returns a new slice with duplicates removed, keeping the first
// occurrence of each element.
func Unique[T comparable](haystack []T) []T {
	seen := make(map[T]struct{}, len(haystack))
	out := make([]T, 0, len(haystack))
	for _, hay := range haystack {
		if _, ok := seen[hay]; ok {
			continue
		}
		seen[hay] = struct{}{}
		out = append(out, hay)
	}
	return out
}

// Difference returns the elements of a that are not present in b.
func Difference[T comparable](a, b []T) []T {
	out := make([]T, 0, len(a))
	for _, v := range a {
		if !Contains(b, v) {
			out = append(out, v)
		}
	}
	return out
}

// Intersection returns the elements present in both a and b, in the order
// they appear in a.
func Intersection[T comparable](a, b []T) []T {
	out := make([]T, 0, len(a))
	for _, v := range a {
		if Contains(b, v) {
			out = append(out, v)
		}
	}
	return out
}
