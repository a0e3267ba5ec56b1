// Package template はソース種別ごとのワーカー設定テンプレートに検索条件を注入します。
//
// ワーカーのソースコードは書き換えません。テンプレートの config 部分を JSON として
// デコードし、プレースホルダを値として差し込んでから再エンコードした設定ファイルを
// ワーカーに渡します。
package template

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

//go:embed templates/*.json
var builtinFS embed.FS

// ConfigDirName は workDir 配下に設定ファイルを置くディレクトリ名です。
const ConfigDirName = ".scrape-forge"

var (
	// ErrTemplateNotFound は未登録のソース種別が指定された場合に返されます。
	ErrTemplateNotFound = errors.New("template not found")
	// ErrInvalidParameters は検索条件が不正な場合に返されます。
	ErrInvalidParameters = errors.New("invalid parameters")
)

var (
	placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z][A-Za-z0-9_.]*)\s*\}\}`)
	exactPlaceholder   = regexp.MustCompile(`^\{\{\s*([A-Za-z][A-Za-z0-9_.]*)\s*\}\}$`)
	extraKeyPattern    = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)
)

// Naming は成果物ファイル名の導出方式です。
type Naming string

const (
	// NamingTruncate は空白を _ に置換して各20文字に切り詰めます。
	NamingTruncate Naming = "truncate"
	// NamingSlug は英小文字と数字以外を - に畳み込みます。
	NamingSlug Naming = "slug"
	// NamingFixed は Name をそのまま使います。
	NamingFixed Naming = "fixed"
)

// ArtifactSpec はワーカーが書き出すファイル名の規則です。
type ArtifactSpec struct {
	Naming Naming `json:"naming"`
	Prefix string `json:"prefix"`
	Ext    string `json:"ext"`
	Name   string `json:"name,omitempty"`
}

// DedupSpec は重複判定に使う列名です。
type DedupSpec struct {
	IDField      string `json:"idField"`
	CompanyField string `json:"companyField"`
	TitleField   string `json:"titleField"`
}

// Template は1つのソース種別の定義です。
type Template struct {
	Source   string            `json:"source"`
	Command  []string          `json:"command"`
	Artifact ArtifactSpec      `json:"artifact"`
	Dedup    DedupSpec         `json:"dedup"`
	Defaults map[string]string `json:"defaults,omitempty"`
	Config   json.RawMessage   `json:"config"`
}

// Definition は注入済みのワーカー起動定義です。
type Definition struct {
	SourceKind   string
	Argv         []string
	Dir          string
	ConfigPath   string
	ArtifactName string
	ArtifactPath string
	ArtifactExt  string
	Dedup        DedupSpec
	Parameters   Parameters
}

// Cleanup は注入した設定ファイルを削除します。
func (d *Definition) Cleanup() error {
	if d == nil || d.ConfigPath == "" {
		return nil
	}
	if err := os.Remove(d.ConfigPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Options は Injector の設定です。
type Options struct {
	// Dir が指定されていれば、組み込みテンプレートの後に Dir/*.json を読み込み上書きします。
	Dir string
	// Vars はコマンド行と設定ファイルで使えるサーバー側の変数です（python, replayWorker, replayFeed など）。
	Vars map[string]string
}

// Injector はソース種別ごとのテンプレートを保持します。
type Injector struct {
	mu        sync.RWMutex
	templates map[string]*Template
	vars      map[string]string
}

// New は組み込みテンプレートと Options.Dir のテンプレートを読み込んだ Injector を返します。
func New(opts Options) (*Injector, error) {
	inj := NewEmpty(opts.Vars)
	if err := inj.loadFS(builtinFS, "templates"); err != nil {
		return nil, fmt.Errorf("load builtin templates: %w", err)
	}
	if opts.Dir != "" {
		if err := inj.loadFS(os.DirFS(opts.Dir), "."); err != nil {
			return nil, fmt.Errorf("load templates from %s: %w", opts.Dir, err)
		}
	}
	return inj, nil
}

// NewEmpty はテンプレートを持たない Injector を返します。
func NewEmpty(vars map[string]string) *Injector {
	copied := make(map[string]string, len(vars))
	for k, v := range vars {
		copied[k] = v
	}
	return &Injector{templates: make(map[string]*Template), vars: copied}
}

// Register はテンプレートを登録します。同じソース種別があれば置き換えます。
func (i *Injector) Register(tpl Template) error {
	if strings.TrimSpace(tpl.Source) == "" {
		return fmt.Errorf("template source is required")
	}
	if len(tpl.Command) == 0 {
		return fmt.Errorf("template %s: command is required", tpl.Source)
	}
	switch tpl.Artifact.Naming {
	case NamingTruncate, NamingSlug:
		if tpl.Artifact.Prefix == "" {
			return fmt.Errorf("template %s: artifact prefix is required", tpl.Source)
		}
	case NamingFixed:
		if tpl.Artifact.Name == "" || tpl.Artifact.Name != filepath.Base(tpl.Artifact.Name) {
			return fmt.Errorf("template %s: artifact name must be a plain file name", tpl.Source)
		}
	default:
		return fmt.Errorf("template %s: unknown artifact naming %q", tpl.Source, tpl.Artifact.Naming)
	}
	if len(bytes.TrimSpace(tpl.Config)) == 0 {
		tpl.Config = json.RawMessage("{}")
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	t := tpl
	i.templates[tpl.Source] = &t
	return nil
}

// Sources は登録済みのソース種別を名前順で返します。
func (i *Injector) Sources() []string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make([]string, 0, len(i.templates))
	for k := range i.templates {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Lookup はソース種別のテンプレートを返します。
func (i *Injector) Lookup(kind string) (Template, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	tpl, ok := i.templates[kind]
	if !ok {
		return Template{}, fmt.Errorf("%w: %q", ErrTemplateNotFound, kind)
	}
	return *tpl, nil
}

// Inject は検索条件を検証してテンプレートに注入し、設定ファイルを workDir/.scrape-forge に書き出します。
func (i *Injector) Inject(kind string, params Parameters, workDir string) (*Definition, error) {
	tpl, err := i.Lookup(kind)
	if err != nil {
		return nil, err
	}
	p, err := params.Normalize()
	if err != nil {
		return nil, err
	}

	absWorkDir, err := filepath.Abs(workDir)
	if err != nil {
		return nil, fmt.Errorf("resolve work dir: %w", err)
	}

	artifactName := tpl.Artifact.FileName(p)
	values := tpl.values(p, i.vars)

	var tree any
	decoder := json.NewDecoder(bytes.NewReader(tpl.Config))
	decoder.UseNumber()
	if err := decoder.Decode(&tree); err != nil {
		return nil, fmt.Errorf("template %s: decode config: %w", kind, err)
	}
	tree, err = substitute(tree, values)
	if err != nil {
		return nil, fmt.Errorf("template %s: %w", kind, err)
	}
	cfg, ok := tree.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("template %s: config must be a JSON object", kind)
	}
	cfg["outputFile"] = artifactName
	if _, exists := cfg["dedup"]; !exists {
		cfg["dedup"] = tpl.Dedup
	}

	encoded, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("template %s: encode config: %w", kind, err)
	}

	configDir := filepath.Join(absWorkDir, ConfigDirName)
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return nil, fmt.Errorf("create config dir: %w", err)
	}
	configPath := filepath.Join(configDir, fmt.Sprintf("%s-%s.json", kind, uuid.NewString()))
	if err := os.WriteFile(configPath, encoded, 0o600); err != nil {
		return nil, fmt.Errorf("write config: %w", err)
	}

	argv, err := i.expandCommand(tpl.Command, configPath, absWorkDir)
	if err != nil {
		_ = os.Remove(configPath)
		return nil, fmt.Errorf("template %s: %w", kind, err)
	}

	return &Definition{
		SourceKind:   kind,
		Argv:         argv,
		Dir:          absWorkDir,
		ConfigPath:   configPath,
		ArtifactName: artifactName,
		ArtifactPath: filepath.Join(absWorkDir, artifactName),
		ArtifactExt:  tpl.Artifact.ext(),
		Dedup:        tpl.Dedup,
		Parameters:   p,
	}, nil
}

func (i *Injector) expandCommand(command []string, configPath, workDir string) ([]string, error) {
	vars := map[string]any{
		"configPath": configPath,
		"workDir":    workDir,
	}
	for k, v := range i.vars {
		vars[k] = v
	}
	argv := make([]string, len(command))
	for idx, arg := range command {
		expanded, err := replaceAll(arg, vars)
		if err != nil {
			return nil, fmt.Errorf("command: %w", err)
		}
		argv[idx] = expanded
	}
	if argv[0] == "" {
		return nil, fmt.Errorf("command: executable is empty")
	}
	return argv, nil
}

// values は設定ファイルに埋め込める値の一覧です。
// サーバー側の変数（replayFeed など）は呼び出し側の extra では上書きできません。
func (t Template) values(p Parameters, vars map[string]string) map[string]any {
	values := make(map[string]any, len(vars)+5)
	for k, v := range vars {
		values[k] = v
	}
	values["query"] = p.Query
	values["locality"] = p.Locality
	values["pageLimit"] = p.PageLimit
	values["visibilityMode"] = p.VisibilityMode
	values["headless"] = p.Headless()
	for k, v := range t.Defaults {
		values["extra."+k] = v
	}
	for k, v := range p.Extra {
		values["extra."+k] = v
	}
	return values
}

func (a ArtifactSpec) ext() string {
	ext := strings.TrimPrefix(a.Ext, ".")
	if ext == "" {
		return "csv"
	}
	return ext
}

// FileName は検索条件からワーカーが書き出すファイル名を導出します。
func (a ArtifactSpec) FileName(p Parameters) string {
	switch a.Naming {
	case NamingTruncate:
		return fmt.Sprintf("%s_%s_%s.%s", a.Prefix, truncateUnderscore(p.Query), truncateUnderscore(p.Locality), a.ext())
	case NamingSlug:
		return fmt.Sprintf("%s_%s_%s.%s", a.Prefix, Slugify(p.Query), Slugify(p.Locality), a.ext())
	default:
		return a.Name
	}
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify は英小文字と数字以外の連続を - に置き換え、前後の - を除去します。
func Slugify(s string) string {
	return strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(s), "-"), "-")
}

func truncateUnderscore(s string) string {
	runes := []rune(strings.ReplaceAll(s, " ", "_"))
	if len(runes) > 20 {
		runes = runes[:20]
	}
	return strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == 0 {
			return '_'
		}
		return r
	}, string(runes))
}

func substitute(node any, values map[string]any) (any, error) {
	switch v := node.(type) {
	case map[string]any:
		for key, child := range v {
			replaced, err := substitute(child, values)
			if err != nil {
				return nil, err
			}
			v[key] = replaced
		}
		return v, nil
	case []any:
		for idx, child := range v {
			replaced, err := substitute(child, values)
			if err != nil {
				return nil, err
			}
			v[idx] = replaced
		}
		return v, nil
	case string:
		if m := exactPlaceholder.FindStringSubmatch(v); m != nil {
			value, ok := values[m[1]]
			if !ok {
				return nil, fmt.Errorf("unknown placeholder %q", m[1])
			}
			return value, nil
		}
		return replaceAll(v, values)
	default:
		return v, nil
	}
}

func replaceAll(s string, values map[string]any) (string, error) {
	var missing string
	out := placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := placeholderPattern.FindStringSubmatch(match)[1]
		value, ok := values[name]
		if !ok {
			if missing == "" {
				missing = name
			}
			return match
		}
		return fmt.Sprint(value)
	})
	if missing != "" {
		return "", fmt.Errorf("unknown placeholder %q", missing)
	}
	return out, nil
}

func (i *Injector) loadFS(fsys fs.FS, dir string) error {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		data, err := fs.ReadFile(fsys, filepath.ToSlash(filepath.Join(dir, entry.Name())))
		if err != nil {
			return err
		}
		var tpl Template
		if err := json.Unmarshal(data, &tpl); err != nil {
			return fmt.Errorf("%s: %w", entry.Name(), err)
		}
		if tpl.Source == "" {
			tpl.Source = strings.TrimSuffix(entry.Name(), ".json")
		}
		if err := i.Register(tpl); err != nil {
			return fmt.Errorf("%s: %w", entry.Name(), err)
		}
	}
	return nil
}
