package labtest

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Category groups metrics for display and iteration order.
type Category string

const (
	CategoryIndex        Category = "index"
	CategoryBloodRoutine Category = "bloodRoutine"
	CategoryBiochemistry Category = "biochemistry"
	CategoryTumorMarker  Category = "tumorMarker"
)

var categoryOrder = map[Category]int{
	CategoryIndex:        0,
	CategoryBloodRoutine: 1,
	CategoryBiochemistry: 2,
	CategoryTumorMarker:  3,
}

var categoryNames = map[Category]string{
	CategoryIndex:        "综合指数",
	CategoryBloodRoutine: "血常规",
	CategoryBiochemistry: "生化",
	CategoryTumorMarker:  "肿瘤标志物",
}

// Categories returns every category in display order.
func Categories() []Category {
	return []Category{CategoryIndex, CategoryBloodRoutine, CategoryBiochemistry, CategoryTumorMarker}
}

// SortOrder returns the fixed position of the category. Unknown categories
// sort last.
func (c Category) SortOrder() int {
	if o, ok := categoryOrder[c]; ok {
		return o
	}
	return len(categoryOrder)
}

// DisplayName returns the human label used on lab sheets.
func (c Category) DisplayName() string { return categoryNames[c] }

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	_, ok := categoryOrder[c]
	return ok
}

// MetricKey is the stable identifier of a lab metric. It is the key used in
// persisted records.
type MetricKey string

const (
	// Composite indices
	MetricNLR MetricKey = "nlr"
	MetricPLR MetricKey = "plr"
	MetricLMR MetricKey = "lmr"
	MetricPNI MetricKey = "pni"

	// Complete blood count: white cells
	MetricWBC          MetricKey = "wbc"
	MetricNeutPercent  MetricKey = "neutPercent"
	MetricLymphPercent MetricKey = "lymphPercent"
	MetricMonoPercent  MetricKey = "monoPercent"
	MetricEoPercent    MetricKey = "eoPercent"
	MetricBasoPercent  MetricKey = "basoPercent"
	MetricNeutAbs      MetricKey = "neutAbs"
	MetricLymphAbs     MetricKey = "lymphAbs"
	MetricMonoAbs      MetricKey = "monoAbs"
	MetricEoAbs        MetricKey = "eoAbs"
	MetricBasoAbs      MetricKey = "basoAbs"

	// Complete blood count: red cells
	MetricRBC   MetricKey = "rbc"
	MetricHGB   MetricKey = "hgb"
	MetricHCT   MetricKey = "hct"
	MetricMCV   MetricKey = "mcv"
	MetricMCH   MetricKey = "mch"
	MetricMCHC  MetricKey = "mchc"
	MetricRDWCV MetricKey = "rdwCv"
	MetricRDWSD MetricKey = "rdwSd"

	// Complete blood count: platelets
	MetricPLT  MetricKey = "plt"
	MetricMPV  MetricKey = "mpv"
	MetricPCT  MetricKey = "pct"
	MetricPLCR MetricKey = "pLcr"

	// Biochemistry: liver
	MetricTBIL        MetricKey = "tbil"
	MetricDBIL        MetricKey = "dbil"
	MetricIBIL        MetricKey = "ibil"
	MetricTP          MetricKey = "tp"
	MetricALB         MetricKey = "alb"
	MetricGLOB        MetricKey = "glob"
	MetricAGRatio     MetricKey = "agRatio"
	MetricALT         MetricKey = "alt"
	MetricAST         MetricKey = "ast"
	MetricASTALTRatio MetricKey = "astAltRatio"
	MetricALP         MetricKey = "alp"
	MetricGGT         MetricKey = "ggt"

	// Biochemistry: kidney
	MetricBUN        MetricKey = "bun"
	MetricUricAcid   MetricKey = "uricAcid"
	MetricCreatinine MetricKey = "creatinine"
	MetricEGFR       MetricKey = "egfr"

	// Tumor markers
	MetricCEA   MetricKey = "cea"
	MetricCA125 MetricKey = "ca125"
	MetricCA199 MetricKey = "ca199"
)

// MetricDefinition describes one supported lab metric.
type MetricDefinition struct {
	Key             MetricKey `json:"key"`
	DisplayName     string    `json:"display_name"`
	ShortName       string    `json:"short_name"`
	BriefName       string    `json:"brief_name"`
	Unit            string    `json:"unit"`
	Category        Category  `json:"category"`
	NormalRangeText string    `json:"normal_range_text"`
	IsKeyMetric     bool      `json:"is_key_metric"`
	SortOrder       int       `json:"sort_order"`
}

// catalog is the single source of truth for metric metadata. Sort orders are
// spaced by category so related metrics stay adjacent.
var catalog = []MetricDefinition{
	{MetricNLR, "NLR", "NLR", "NLR", "", CategoryIndex, "1–3\n>3表示炎症增加", false, 0},
	{MetricPLR, "PLR", "PLR", "PLR", "", CategoryIndex, "健康人：< 150\n150–300：轻度炎症", false, 1},
	{MetricLMR, "LMR", "LMR", "LMR", "", CategoryIndex, "> 4：免疫状态良好\n< 2–3：往往提示不良预后、炎症、肿瘤负荷大", false, 2},
	{MetricPNI, "PNI", "PNI", "PNI", "", CategoryIndex, "PNI=10×白蛋白(g/dL)+0.005×淋巴细胞(/mm³)\n> 50：营养状况极佳\n45–50：可接受\n< 40：有营养不良/免疫弱化风险", false, 3},

	{MetricWBC, "白细胞计数", "WBC", "白细胞", "10⁹/L", CategoryBloodRoutine, "3.5–9.5", true, 10},
	{MetricNeutPercent, "中性粒细胞百分数", "NEUT%", "中性粒%", "%", CategoryBloodRoutine, "40–75", false, 11},
	{MetricLymphPercent, "淋巴细胞百分数", "LYM%", "淋巴%", "%", CategoryBloodRoutine, "20–50", false, 12},
	{MetricMonoPercent, "单核细胞百分数", "MONO%", "单核%", "%", CategoryBloodRoutine, "3–10", false, 13},
	{MetricEoPercent, "嗜酸性粒细胞百分数", "EO%", "嗜酸%", "%", CategoryBloodRoutine, "0.4–8", false, 14},
	{MetricBasoPercent, "嗜碱性粒细胞百分数", "BASO%", "嗜碱%", "%", CategoryBloodRoutine, "0–1", false, 15},
	{MetricNeutAbs, "中性粒细胞绝对值", "NEUT#", "中性粒", "10⁹/L", CategoryBloodRoutine, "1.8–6.3", true, 16},
	{MetricLymphAbs, "淋巴细胞绝对值", "LYM#", "淋巴", "10⁹/L", CategoryBloodRoutine, "1.1–3.2", false, 17},
	{MetricMonoAbs, "单核细胞绝对值", "MONO#", "单核", "10⁹/L", CategoryBloodRoutine, "0.1–0.6", false, 18},
	{MetricEoAbs, "嗜酸性粒细胞绝对值", "EO#", "嗜酸", "10⁹/L", CategoryBloodRoutine, "0.02–0.52", false, 19},
	{MetricBasoAbs, "嗜碱性粒细胞绝对值", "BASO#", "嗜碱", "10⁹/L", CategoryBloodRoutine, "0–0.06", false, 20},
	{MetricRBC, "红细胞计数", "RBC", "红细胞", "10¹²/L", CategoryBloodRoutine, "4.3–5.8", false, 30},
	{MetricHGB, "血红蛋白", "HGB", "血红蛋白", "g/L", CategoryBloodRoutine, "130–175", true, 31},
	{MetricHCT, "红细胞比容", "HCT", "比容", "%", CategoryBloodRoutine, "40–50", false, 32},
	{MetricMCV, "平均红细胞体积（MCV）", "MCV", "红细胞体积", "fL", CategoryBloodRoutine, "82–100", false, 33},
	{MetricMCH, "平均红细胞血红蛋白（MCH）", "MCH", "红细胞血红蛋白", "pg", CategoryBloodRoutine, "27–34", false, 34},
	{MetricMCHC, "平均红细胞血红蛋白浓度（MCHC）", "MCHC", "血红蛋白浓度", "g/L", CategoryBloodRoutine, "316–354", false, 35},
	{MetricRDWCV, "RBC体积分布宽度（RDW-CV）", "RDW-CV", "分布宽度CV", "%", CategoryBloodRoutine, "11–16", false, 36},
	{MetricRDWSD, "RBC体积分布宽度（RDW-SD）", "RDW-SD", "分布宽度SD", "", CategoryBloodRoutine, "39–52.3", false, 37},
	{MetricPLT, "血小板计数", "PLT", "血小板", "10⁹/L", CategoryBloodRoutine, "125–350", true, 40},
	{MetricMPV, "平均血小板体积", "MPV", "血小板体积", "fL", CategoryBloodRoutine, "9–13", false, 41},
	{MetricPCT, "血小板比容", "PCT", "血小板比容", "%", CategoryBloodRoutine, "0.11–0.31", false, 42},
	{MetricPLCR, "大血小板比例", "P-LCR", "大血小板", "%", CategoryBloodRoutine, "17.5–42.3", false, 43},

	{MetricTBIL, "总胆红素", "TBIL", "总胆", "μmol/L", CategoryBiochemistry, "3.4–20.5", false, 50},
	{MetricDBIL, "直接胆红素", "DBIL", "直胆", "μmol/L", CategoryBiochemistry, "0–8.6", false, 51},
	{MetricIBIL, "间接胆红素", "IBIL", "间胆", "μmol/L", CategoryBiochemistry, "3–19", false, 52},
	{MetricTP, "总蛋白", "TP", "总蛋白", "g/L", CategoryBiochemistry, "65–85", false, 53},
	{MetricALB, "白蛋白", "ALB", "白蛋白", "g/L", CategoryBiochemistry, "40–55", false, 54},
	{MetricGLOB, "球蛋白", "GLOB", "球蛋白", "g/L", CategoryBiochemistry, "20–40", false, 55},
	{MetricAGRatio, "白球比", "A/G", "白球比", "", CategoryBiochemistry, "1.2–2.4", false, 56},
	{MetricALT, "丙氨酸氨基转移酶（ALT）谷丙", "ALT", "谷丙", "U/L", CategoryBiochemistry, "9–50", false, 57},
	{MetricAST, "门冬氨酸氨基转移酶（AST）", "AST", "谷草", "U/L", CategoryBiochemistry, "15–40", false, 58},
	{MetricASTALTRatio, "谷草/谷丙比值", "AST/ALT", "谷草/谷丙", "", CategoryBiochemistry, "—", false, 59},
	{MetricALP, "碱性磷酸酶（ALP）", "ALP", "碱性磷酸酶", "U/L", CategoryBiochemistry, "30–120", false, 60},
	{MetricGGT, "谷氨酰转肽酶（GGT）", "GGT", "转肽酶", "U/L", CategoryBiochemistry, "10–60", false, 61},
	{MetricBUN, "尿素氮（BUN）", "BUN", "尿素氮", "mmol/L", CategoryBiochemistry, "1.7–8.3", false, 70},
	{MetricUricAcid, "尿酸", "UA", "尿酸", "μmol/L", CategoryBiochemistry, "208–428", false, 71},
	{MetricCreatinine, "肌酐", "Cr", "肌酐", "μmol/L", CategoryBiochemistry, "58–110", false, 72},
	{MetricEGFR, "肾小球滤过率（eGFR）", "eGFR", "滤过率", "ml/min", CategoryBiochemistry, ">90", false, 73},

	{MetricCEA, "癌胚抗原（CEA）", "CEA", "癌胚抗原", "ng/ml", CategoryTumorMarker, "<5.0", false, 80},
	{MetricCA125, "糖类抗原 CA125", "CA125", "CA125", "U/ml", CategoryTumorMarker, "<35", false, 81},
	{MetricCA199, "糖类抗原 CA199", "CA199", "CA199", "U/ml", CategoryTumorMarker, "<30", false, 82},
}

// keyMetrics is the headline set, in summary order.
var keyMetrics = []MetricKey{MetricWBC, MetricNeutAbs, MetricHGB, MetricPLT}

var (
	byKey        map[MetricKey]*MetricDefinition
	byName       map[string]*MetricDefinition
	byFoldedName map[string]*MetricDefinition
	ordered      []MetricDefinition
)

func init() {
	byKey = make(map[MetricKey]*MetricDefinition, len(catalog))
	byName = make(map[string]*MetricDefinition, len(catalog))
	byFoldedName = make(map[string]*MetricDefinition, len(catalog))
	for i := range catalog {
		def := &catalog[i]
		if _, dup := byKey[def.Key]; dup {
			panic("labtest: duplicate metric key " + string(def.Key))
		}
		if _, dup := byName[def.DisplayName]; dup {
			panic("labtest: duplicate metric display name " + def.DisplayName)
		}
		byKey[def.Key] = def
		byName[def.DisplayName] = def
		byFoldedName[foldName(def.DisplayName)] = def
	}

	ordered = make([]MetricDefinition, len(catalog))
	copy(ordered, catalog)
	sort.SliceStable(ordered, func(i, j int) bool {
		ci, cj := ordered[i].Category.SortOrder(), ordered[j].Category.SortOrder()
		if ci != cj {
			return ci < cj
		}
		return ordered[i].SortOrder < ordered[j].SortOrder
	})
}

// foldName maps full-width punctuation and letters to their ASCII forms so
// "平均红细胞体积(MCV)" matches the catalog's "平均红细胞体积（MCV）".
func foldName(s string) string {
	return norm.NFKC.String(strings.TrimSpace(s))
}

// LookupByKey returns the definition for key.
func LookupByKey(key MetricKey) (MetricDefinition, bool) {
	def, ok := byKey[key]
	if !ok {
		return MetricDefinition{}, false
	}
	return *def, true
}

// LookupByDisplayName resolves a lab-sheet field name. The name is trimmed
// and matched exactly; if that fails, a width-folded comparison is tried.
func LookupByDisplayName(name string) (MetricDefinition, bool) {
	trimmed := strings.TrimSpace(name)
	if def, ok := byName[trimmed]; ok {
		return *def, true
	}
	if def, ok := byFoldedName[foldName(trimmed)]; ok {
		return *def, true
	}
	return MetricDefinition{}, false
}

// AllDefinitions returns every metric ordered by category, then metric sort
// order. The returned slice is a copy.
func AllDefinitions() []MetricDefinition {
	out := make([]MetricDefinition, len(ordered))
	copy(out, ordered)
	return out
}

// KeyMetrics returns the four headline metrics.
func KeyMetrics() []MetricDefinition {
	out := make([]MetricDefinition, 0, len(keyMetrics))
	for _, k := range keyMetrics {
		out = append(out, *byKey[k])
	}
	return out
}

// CategoryGroup is one category with its metrics in sort order.
type CategoryGroup struct {
	Category    Category           `json:"category"`
	DisplayName string             `json:"display_name"`
	Metrics     []MetricDefinition `json:"metrics"`
}

// DefinitionsByCategory groups AllDefinitions by category, skipping empty
// groups.
func DefinitionsByCategory() []CategoryGroup {
	return groupDefinitions(ordered)
}

// SearchDefinitions filters the catalog by optional category and a
// case-insensitive substring of the display or short name. Matching groups
// are returned in catalog order.
func SearchDefinitions(category *Category, text string) []CategoryGroup {
	needle := strings.ToLower(strings.TrimSpace(text))
	var matched []MetricDefinition
	for _, def := range ordered {
		if category != nil && def.Category != *category {
			continue
		}
		if needle != "" &&
			!strings.Contains(strings.ToLower(def.DisplayName), needle) &&
			!strings.Contains(strings.ToLower(def.ShortName), needle) {
			continue
		}
		matched = append(matched, def)
	}
	return groupDefinitions(matched)
}

func groupDefinitions(defs []MetricDefinition) []CategoryGroup {
	var groups []CategoryGroup
	for _, cat := range Categories() {
		var metrics []MetricDefinition
		for _, def := range defs {
			if def.Category == cat {
				metrics = append(metrics, def)
			}
		}
		if len(metrics) > 0 {
			groups = append(groups, CategoryGroup{Category: cat, DisplayName: cat.DisplayName(), Metrics: metrics})
		}
	}
	return groups
}

// catalogRank returns the global iteration position of key, or -1.
func catalogRank(key MetricKey) int {
	def, ok := byKey[key]
	if !ok {
		return -1
	}
	return def.Category.SortOrder()*1000 + def.SortOrder
}

// FormatValue renders a metric value the way summaries show it: whole
// numbers without decimals, everything else with two.
func FormatValue(v float64) string {
	if v == math.Floor(v) && !math.IsInf(v, 0) {
		return strconv.FormatFloat(v, 'f', 0, 64)
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}
