// Package hangman implements the "forca" word game played in the Discord chat.
package hangman

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"strings"
	"sync"
	"unicode"

	"github.com/pelletier/go-toml/v2"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MaxErrors is the number of wrong guesses that hangs the player.
const MaxErrors = 6

// DefaultWords is used when no word file is configured.
var DefaultWords = []string{
	"teclado", "switch", "keycap", "estabilizador", "lubrificante", "mecanico",
	"membrana", "acrilico", "alumínio", "espaçador", "placa", "soldador",
}

// AlreadyGuessedError is returned when a letter was already tried in the current game.
type AlreadyGuessedError struct {
	Letter string
}

func (e *AlreadyGuessedError) Error() string {
	return fmt.Sprintf("letter %q already guessed", e.Letter)
}

var (
	ErrNotRunning    = errors.New("hangman: no game running")
	ErrInvalidLetter = errors.New("hangman: guess must be a single letter")
)

type wordFile struct {
	Words []string `toml:"words"`
}

// LoadWords reads a TOML file with a top-level `words = [...]` array.
func LoadWords(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open word list: %w", err)
	}
	defer f.Close()
	var wf wordFile
	if err := toml.NewDecoder(f).Decode(&wf); err != nil {
		return nil, fmt.Errorf("decode word list %s: %w", path, err)
	}
	words := make([]string, 0, len(wf.Words))
	for _, w := range wf.Words {
		if w = strings.TrimSpace(w); w != "" {
			words = append(words, strings.ToLower(w))
		}
	}
	if len(words) == 0 {
		return nil, fmt.Errorf("word list %s is empty", path)
	}
	return words, nil
}

var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// fold lowercases s and strips its diacritics.
func fold(s string) string {
	out, _, err := transform.String(foldTransformer, strings.ToLower(s))
	if err != nil {
		return strings.ToLower(s)
	}
	return out
}

// Game is a single shared hangman game. It is safe for concurrent use.
type Game struct {
	mu      sync.Mutex
	words   []string
	pick    func(n int) int
	word    []rune
	folded  []rune
	guessed map[rune]bool
	errors  int
	running bool
}

// New returns a game drawing words from words, or DefaultWords when empty.
func New(words []string) *Game {
	if len(words) == 0 {
		words = DefaultWords
	}
	return &Game{words: words, pick: rand.IntN}
}

// Start draws a new word and clears the previous game.
func (g *Game) Start() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.startLocked(g.words[g.pick(len(g.words))])
}

// StartIfIdle starts a game unless one is in progress and reports whether it did.
func (g *Game) StartIfIdle() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running {
		return false
	}
	g.startLocked(g.words[g.pick(len(g.words))])
	return true
}

func (g *Game) startLocked(word string) {
	g.word = []rune(strings.ToLower(word))
	g.folded = []rune(fold(word))
	if len(g.folded) != len(g.word) {
		g.folded = g.word
	}
	g.guessed = make(map[rune]bool)
	g.errors = 0
	g.running = true
}

// IsRunning reports whether a game is in progress.
func (g *Game) IsRunning() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.running
}

// Guess tries letter and returns how many positions of the word it revealed. Case and accents
// are ignored.
func (g *Game) Guess(letter string) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.running {
		return 0, ErrNotRunning
	}
	f := []rune(fold(strings.TrimSpace(letter)))
	if len(f) != 1 || !unicode.IsLetter(f[0]) {
		return 0, ErrInvalidLetter
	}
	r := f[0]
	if g.guessed[r] {
		return 0, &AlreadyGuessedError{Letter: letter}
	}
	g.guessed[r] = true
	count := 0
	for _, c := range g.folded {
		if c == r {
			count++
		}
	}
	if count == 0 {
		g.errors++
	}
	return count, nil
}

// ErrorCount returns the number of wrong guesses so far.
func (g *Game) ErrorCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.errors
}

func (g *Game) isWinLocked() bool {
	if len(g.folded) == 0 {
		return false
	}
	for _, c := range g.folded {
		if unicode.IsLetter(c) && !g.guessed[c] {
			return false
		}
	}
	return true
}

// IsWin reports whether every letter of the word was revealed.
func (g *Game) IsWin() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.isWinLocked()
}

// IsFinished reports whether the game was won or lost.
func (g *Game) IsFinished() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.errors >= MaxErrors || g.isWinLocked()
}

// Reset ends the current game. The word stays readable until the next Start.
func (g *Game) Reset() {
	g.mu.Lock()
	g.running = false
	g.mu.Unlock()
}

// Word returns the secret word with its original accents.
func (g *Game) Word() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return string(g.word)
}

// String renders the word with hidden letters as "_", separated by spaces.
func (g *Game) String() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	parts := make([]string, len(g.word))
	for i, c := range g.word {
		if !unicode.IsLetter(c) || g.guessed[g.folded[i]] {
			parts[i] = string(c)
		} else {
			parts[i] = "_"
		}
	}
	return strings.Join(parts, " ")
}

var gallows = [MaxErrors + 1]string{
	"  +---+\n  |   |\n      |\n      |\n      |\n      |\n=========",
	"  +---+\n  |   |\n  O   |\n      |\n      |\n      |\n=========",
	"  +---+\n  |   |\n  O   |\n  |   |\n      |\n      |\n=========",
	"  +---+\n  |   |\n  O   |\n /|   |\n      |\n      |\n=========",
	"  +---+\n  |   |\n  O   |\n /|\\  |\n      |\n      |\n=========",
	"  +---+\n  |   |\n  O   |\n /|\\  |\n /    |\n      |\n=========",
	"  +---+\n  |   |\n  O   |\n /|\\  |\n / \\  |\n      |\n=========",
}

// Picture draws the gallows for the current error count with the word beside it.
func (g *Game) Picture() string {
	errs := min(g.ErrorCount(), MaxErrors)
	lines := strings.Split(gallows[errs], "\n")
	lines[2] += "          " + g.String()
	for i, l := range lines {
		lines[i] = fmt.Sprintf("%-40s", l)
	}
	return strings.Join(lines, "\n")
}
