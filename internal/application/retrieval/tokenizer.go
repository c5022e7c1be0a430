package retrieval

// Tokenizer 把文本编码为 token 序列；Decode(Encode(s)) 应还原 s。
type Tokenizer interface {
	Name() string
	Encode(text string) []int
	Decode(tokens []int) string
}

// RuneTokenizer 以 Unicode 码点作为 token，无需词表。
type RuneTokenizer struct{}

func (RuneTokenizer) Name() string { return "runes" }

func (RuneTokenizer) Encode(text string) []int {
	runes := []rune(text)
	out := make([]int, len(runes))
	for i, r := range runes {
		out[i] = int(r)
	}
	return out
}

func (RuneTokenizer) Decode(tokens []int) string {
	runes := make([]rune, len(tokens))
	for i, t := range tokens {
		runes[i] = rune(t)
	}
	return string(runes)
}

// CountTokens 统计文本 token 数。
func CountTokens(tok Tokenizer, text string) int {
	if text == "" {
		return 0
	}
	return len(tok.Encode(text))
}
