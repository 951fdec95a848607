// Package scripture detects Bible references in committed transcripts so
// listener clients can pull up the passage being read.
package scripture

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Detection methods.
const (
	MethodNumeric = "numeric"
	MethodSpoken  = "spoken"
)

// Confidence per method: the numeric "John 3:16" form is nearly unambiguous;
// spoken forms depend on number-word parsing.
const (
	numericConfidence = 0.95
	spokenConfidence  = 0.8
)

// Reference is one detected passage.
type Reference struct {
	Book     string
	Chapter  int
	Verse    int
	VerseEnd int
	// Method records which pattern matched; Confidence is its fixed score.
	Method     string
	Confidence float64
}

// String renders the canonical "Book C:V" form.
func (r Reference) String() string {
	s := fmt.Sprintf("%s %d", r.Book, r.Chapter)
	if r.Verse > 0 {
		s += ":" + strconv.Itoa(r.Verse)
		if r.VerseEnd > r.Verse {
			s += "-" + strconv.Itoa(r.VerseEnd)
		}
	}
	return s
}

// books maps lowercase names and common abbreviations to canonical book
// names. Multi-word names are matched with flexible whitespace.
var books = map[string]string{
	"genesis": "Genesis", "gen": "Genesis",
	"exodus": "Exodus", "ex": "Exodus",
	"leviticus": "Leviticus", "lev": "Leviticus",
	"numbers": "Numbers", "num": "Numbers",
	"deuteronomy": "Deuteronomy", "deut": "Deuteronomy",
	"joshua": "Joshua", "josh": "Joshua",
	"judges":   "Judges",
	"ruth":     "Ruth",
	"1 samuel": "1 Samuel", "first samuel": "1 Samuel",
	"2 samuel": "2 Samuel", "second samuel": "2 Samuel",
	"1 kings": "1 Kings", "first kings": "1 Kings",
	"2 kings": "2 Kings", "second kings": "2 Kings",
	"1 chronicles": "1 Chronicles", "2 chronicles": "2 Chronicles",
	"ezra":     "Ezra",
	"nehemiah": "Nehemiah",
	"esther":   "Esther",
	"job":      "Job",
	"psalm":    "Psalms", "psalms": "Psalms",
	"proverbs": "Proverbs", "prov": "Proverbs",
	"ecclesiastes":  "Ecclesiastes",
	"song of songs": "Song of Songs", "song of solomon": "Song of Songs",
	"isaiah": "Isaiah", "isa": "Isaiah",
	"jeremiah": "Jeremiah", "jer": "Jeremiah",
	"lamentations": "Lamentations",
	"ezekiel":      "Ezekiel",
	"daniel":       "Daniel", "dan": "Daniel",
	"hosea": "Hosea", "joel": "Joel", "amos": "Amos",
	"obadiah": "Obadiah", "jonah": "Jonah", "micah": "Micah",
	"nahum": "Nahum", "habakkuk": "Habakkuk", "zephaniah": "Zephaniah",
	"haggai": "Haggai", "zechariah": "Zechariah", "malachi": "Malachi",
	"matthew": "Matthew", "matt": "Matthew",
	"mark":   "Mark",
	"luke":   "Luke",
	"john":   "John",
	"acts":   "Acts",
	"romans": "Romans", "rom": "Romans",
	"1 corinthians": "1 Corinthians", "first corinthians": "1 Corinthians",
	"2 corinthians": "2 Corinthians", "second corinthians": "2 Corinthians",
	"galatians": "Galatians", "gal": "Galatians",
	"ephesians": "Ephesians", "eph": "Ephesians",
	"philippians": "Philippians", "phil": "Philippians",
	"colossians": "Colossians", "col": "Colossians",
	"1 thessalonians": "1 Thessalonians", "2 thessalonians": "2 Thessalonians",
	"1 timothy": "1 Timothy", "first timothy": "1 Timothy",
	"2 timothy": "2 Timothy", "second timothy": "2 Timothy",
	"titus": "Titus", "philemon": "Philemon",
	"hebrews": "Hebrews", "heb": "Hebrews",
	"james":   "James",
	"1 peter": "1 Peter", "first peter": "1 Peter",
	"2 peter": "2 Peter", "second peter": "2 Peter",
	"1 john": "1 John", "first john": "1 John",
	"2 john": "2 John", "3 john": "3 John",
	"jude":       "Jude",
	"revelation": "Revelation", "rev": "Revelation",
}

var wordNumbers = map[string]int{
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
	"eleven": 11, "twelve": 12, "thirteen": 13, "fourteen": 14, "fifteen": 15,
	"sixteen": 16, "seventeen": 17, "eighteen": 18, "nineteen": 19, "twenty": 20,
	"thirty": 30, "forty": 40, "fifty": 50, "sixty": 60,
	"seventy": 70, "eighty": 80, "ninety": 90, "hundred": 100,
}

var (
	bookAlternation string
	// numericRef matches "John 3:16", "John 3:16-18", "1 Peter 2:9".
	numericRef *regexp.Regexp
	// spokenRef matches "John chapter three verse sixteen" and the numeric
	// spoken form "John chapter 3 verse 16".
	spokenRef *regexp.Regexp
)

func init() {
	names := make([]string, 0, len(books))
	for name := range books {
		names = append(names, strings.ReplaceAll(regexp.QuoteMeta(name), " ", `\s+`))
	}
	bookAlternation = strings.Join(names, "|")
	numericRef = regexp.MustCompile(`(?i)\b(` + bookAlternation + `)\.?\s+(\d{1,3})\s*:\s*(\d{1,3})(?:\s*[-–]\s*(\d{1,3}))?`)
	spokenRef = regexp.MustCompile(`(?i)\b(` + bookAlternation + `)\s+chapter\s+([a-z0-9\s-]+?)(?:\s*,)?(?:\s+verses?\s+([a-z0-9\s-]+?))?(?:[.,;!?]|$)`)
}

// parseNumber reads a numeric or spelled-out number ("three", "twenty-one").
func parseNumber(s string) (int, bool) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, false
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n, true
	}
	total := 0
	for _, w := range strings.FieldsFunc(s, func(r rune) bool { return r == ' ' || r == '-' }) {
		n, ok := wordNumbers[w]
		if !ok {
			return 0, false
		}
		if n == 100 && total > 0 {
			total *= 100
			continue
		}
		total += n
	}
	if total == 0 {
		return 0, false
	}
	return total, true
}

func canonicalBook(raw string) (string, bool) {
	key := strings.Join(strings.Fields(strings.ToLower(raw)), " ")
	name, ok := books[key]
	return name, ok
}

// Detect returns every scripture reference found in text, in order of
// appearance.
func Detect(text string) []Reference {
	var refs []Reference

	for _, m := range numericRef.FindAllStringSubmatch(text, -1) {
		book, ok := canonicalBook(m[1])
		if !ok {
			continue
		}
		chapter, _ := strconv.Atoi(m[2])
		verse, _ := strconv.Atoi(m[3])
		ref := Reference{
			Book: book, Chapter: chapter, Verse: verse,
			Method: MethodNumeric, Confidence: numericConfidence,
		}
		if m[4] != "" {
			ref.VerseEnd, _ = strconv.Atoi(m[4])
		}
		refs = append(refs, ref)
	}

	for _, m := range spokenRef.FindAllStringSubmatch(text, -1) {
		book, ok := canonicalBook(m[1])
		if !ok {
			continue
		}
		chapter, ok := parseNumber(m[2])
		if !ok {
			continue
		}
		ref := Reference{
			Book: book, Chapter: chapter,
			Method: MethodSpoken, Confidence: spokenConfidence,
		}
		if m[3] != "" {
			if verse, ok := parseNumber(m[3]); ok {
				ref.Verse = verse
			}
		}
		if containsRef(refs, ref) {
			continue
		}
		refs = append(refs, ref)
	}
	return refs
}

func containsRef(refs []Reference, r Reference) bool {
	for _, x := range refs {
		if x.Book == r.Book && x.Chapter == r.Chapter && x.Verse == r.Verse {
			return true
		}
	}
	return false
}
