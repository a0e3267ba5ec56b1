// Package progress はワーカーの標準出力を進捗イベントに分類します。
//
// ワーカーは 1 行 1 イベントのタグ付き形式
//
//	::progress <tag> [payload]
//
// を出力することが推奨されますが、既存のスクレイパーが出力する自由形式の
// ログ行も後方互換のルールで分類します。ルールは登録順に評価され、最初に
// 一致したものが採用されます。
package progress

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Kind は進捗イベントの種別です。
type Kind string

const (
	KindPageAdvance Kind = "page"
	KindListLoading Kind = "list-loading"
	KindListLoaded  Kind = "list-loaded"
	KindItem        Kind = "item"
	KindCaptured    Kind = "captured"
)

// TagPrefix はタグ付きイベント行の接頭辞です。
const TagPrefix = "::progress"

const titlePreviewRunes = 30

// Event は分類済みの進捗イベントです。
type Event struct {
	Kind  Kind
	Line  string // 分類対象になった行（前後の空白は除去済み）
	Title string // KindCaptured のときの取得タイトル
	Count int    // KindListLoaded / KindPageAdvance のときの件数やページ番号
}

// Message はジョブの progress 欄に表示する文言を返します。
func (e Event) Message() string {
	switch e.Kind {
	case KindListLoading:
		return "Loading job list..."
	case KindItem:
		return "Analyzing job..."
	case KindCaptured:
		return "Saved: " + truncateRunes(e.Title, titlePreviewRunes) + "..."
	default:
		return e.Line
	}
}

// Rule は1行を判定し、一致した場合にイベントを返します。
type Rule struct {
	Name  string
	Match func(line string) (Event, bool)
}

// Classifier は順序付きルールの集合です。
type Classifier struct {
	rules []Rule
}

// New は指定ルールで Classifier を作成します。
func New(rules ...Rule) *Classifier {
	return &Classifier{rules: append([]Rule(nil), rules...)}
}

// Default はタグ付き形式と既存スクレイパー向けのルールを持つ Classifier を返します。
func Default() *Classifier {
	rules := []Rule{TaggedRule()}
	rules = append(rules, LegacyRules()...)
	return New(rules...)
}

// Classify は行を分類します。どのルールにも一致しなければ false を返します。
func (c *Classifier) Classify(line string) (Event, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Event{}, false
	}
	for _, rule := range c.rules {
		if ev, ok := rule.Match(line); ok {
			ev.Line = line
			return ev, true
		}
	}
	return Event{}, false
}

// TaggedRule は "::progress <tag> [payload]" 形式の行を解釈します。
func TaggedRule() Rule {
	return Rule{
		Name: "tagged",
		Match: func(line string) (Event, bool) {
			rest, ok := strings.CutPrefix(line, TagPrefix)
			if !ok || (rest != "" && rest[0] != ' ' && rest[0] != '\t') {
				return Event{}, false
			}
			tag, payload, _ := strings.Cut(strings.TrimSpace(rest), " ")
			payload = strings.TrimSpace(payload)

			switch Kind(tag) {
			case KindPageAdvance:
				n, _ := strconv.Atoi(payload)
				return Event{Kind: KindPageAdvance, Count: n}, true
			case KindListLoading:
				return Event{Kind: KindListLoading}, true
			case KindListLoaded:
				n, _ := strconv.Atoi(payload)
				return Event{Kind: KindListLoaded, Count: n}, true
			case KindItem:
				return Event{Kind: KindItem}, true
			case KindCaptured:
				return Event{Kind: KindCaptured, Title: payload}, true
			default:
				return Event{}, false
			}
		},
	}
}

var (
	rxScrapingPage  = regexp.MustCompile(`(?:Scraping Page|Collecting Links: Page) (\d+)`)
	rxLoadingJobs   = regexp.MustCompile(`^(?:-> )?Loading jobs\b`)
	rxLoadedJobs    = regexp.MustCompile(`^Loaded (\d+) jobs`)
	rxFoundNewJobs  = regexp.MustCompile(`^Found (\d+) new jobs`)
	rxProcessingID  = regexp.MustCompile(`Processing ID\b|^\[\d+/\d+\] Processing\b`)
	rxCapturedTitle = regexp.MustCompile(`(?:Captured|Scraped):(.*)$`)
)

// LegacyRules は既存の Python スクレイパーが出力する文言を解釈するルールです。
func LegacyRules() []Rule {
	return []Rule{
		{
			Name: "page-advance",
			Match: func(line string) (Event, bool) {
				m := rxScrapingPage.FindStringSubmatch(line)
				if m == nil {
					return Event{}, false
				}
				n, _ := strconv.Atoi(m[1])
				return Event{Kind: KindPageAdvance, Count: n}, true
			},
		},
		{
			Name: "list-loading",
			Match: func(line string) (Event, bool) {
				if !rxLoadingJobs.MatchString(line) {
					return Event{}, false
				}
				return Event{Kind: KindListLoading}, true
			},
		},
		{
			Name: "list-loaded",
			Match: func(line string) (Event, bool) {
				m := rxLoadedJobs.FindStringSubmatch(line)
				if m == nil {
					m = rxFoundNewJobs.FindStringSubmatch(line)
				}
				if m == nil {
					return Event{}, false
				}
				n, _ := strconv.Atoi(m[1])
				return Event{Kind: KindListLoaded, Count: n}, true
			},
		},
		{
			Name: "item",
			Match: func(line string) (Event, bool) {
				if !rxProcessingID.MatchString(line) {
					return Event{}, false
				}
				return Event{Kind: KindItem}, true
			},
		},
		{
			Name: "captured",
			Match: func(line string) (Event, bool) {
				m := rxCapturedTitle.FindStringSubmatch(line)
				if m == nil {
					return Event{}, false
				}
				return Event{Kind: KindCaptured, Title: strings.TrimSpace(m[1])}, true
			},
		},
	}
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
