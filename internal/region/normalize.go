// SPDX-License-Identifier: MIT

// Package region canonicalizes free-text place names into stable
// province-level region identifiers.
package region

import (
	"regexp"
	"strings"
	"sync"
)

// Canonical is the fixed set of region identifiers quotes are keyed by.
var Canonical = []string{
	"北京", "上海", "天津", "重庆",
	"河北", "山西", "辽宁", "吉林", "黑龙江",
	"江苏", "浙江", "安徽", "福建", "江西", "山东",
	"河南", "湖北", "湖南", "广东", "海南",
	"四川", "贵州", "云南", "陕西", "甘肃", "青海", "台湾",
	"内蒙古", "广西", "西藏", "宁夏", "新疆",
	"香港", "澳门",
}

var aliases = map[string]string{
	"北京市": "北京",
	"上海市": "上海",
	"天津市": "天津",
	"重庆市": "重庆",
	"内蒙":  "内蒙古",
	"内蒙古自治区": "内蒙古",
	"广西壮族自治区": "广西",
	"西藏自治区":   "西藏",
	"宁夏回族自治区": "宁夏",
	"新疆维吾尔自治区": "新疆",
	"香港特别行政区":  "香港",
	"澳门特别行政区":  "澳门",
	"中国香港": "香港",
	"中国澳门": "澳门",
}

// cities maps well-known prefecture cities to their province-level region so
// that inputs like "浙江杭州" or a bare "杭州" resolve without user round-trips.
var cities = map[string]string{
	"广州": "广东", "深圳": "广东", "东莞": "广东", "佛山": "广东", "珠海": "广东",
	"杭州": "浙江", "宁波": "浙江", "温州": "浙江", "金华": "浙江", "义乌": "浙江",
	"南京": "江苏", "苏州": "江苏", "无锡": "江苏", "常州": "江苏", "徐州": "江苏",
	"成都": "四川", "绵阳": "四川",
	"武汉": "湖北", "长沙": "湖南", "郑州": "河南", "洛阳": "河南",
	"西安": "陕西", "兰州": "甘肃", "西宁": "青海",
	"济南": "山东", "青岛": "山东", "烟台": "山东",
	"福州": "福建", "厦门": "福建", "泉州": "福建",
	"合肥": "安徽", "南昌": "江西", "太原": "山西", "石家庄": "河北",
	"沈阳": "辽宁", "大连": "辽宁", "长春": "吉林", "哈尔滨": "黑龙江",
	"昆明": "云南", "贵阳": "贵州", "南宁": "广西", "海口": "海南", "三亚": "海南",
	"呼和浩特": "内蒙古", "银川": "宁夏", "拉萨": "西藏", "乌鲁木齐": "新疆",
}

var (
	suffixRe     = regexp.MustCompile(`(省|市|区|县|自治区|自治州|地区|特别行政区)$`)
	whitespaceRe = regexp.MustCompile(`\s+`)

	memoMu sync.RWMutex
	memo   = map[string]string{} // raw input -> canonical ("" = unresolved)
)

// Normalize resolves a free-text place string to a canonical region
// identifier. The second return value is false when the input cannot be
// resolved; that is the only failure mode.
func Normalize(raw string) (string, bool) {
	text := whitespaceRe.ReplaceAllString(strings.TrimSpace(raw), "")
	if text == "" {
		return "", false
	}

	memoMu.RLock()
	cached, ok := memo[text]
	memoMu.RUnlock()
	if ok {
		return cached, cached != ""
	}

	result := resolve(text)
	memoMu.Lock()
	memo[text] = result
	memoMu.Unlock()
	return result, result != ""
}

func resolve(text string) string {
	if r, ok := lookup(text); ok {
		return r
	}

	// Strip one trailing administrative suffix and retry.
	base := suffixRe.ReplaceAllString(text, "")
	if base != text {
		if r, ok := lookup(base); ok {
			return r
		}
	}

	// Longest unambiguous prefix: "浙江杭州" matches 浙江, "广州白云区"
	// matches 广州 via the city table.
	best := ""
	runes := []rune(base)
	for i := len(runes); i >= 2; i-- {
		if r, ok := lookup(string(runes[:i])); ok {
			best = r
			break
		}
	}
	return best
}

func lookup(text string) (string, bool) {
	if r, ok := aliases[text]; ok {
		return r, true
	}
	for _, c := range Canonical {
		if text == c {
			return c, true
		}
	}
	if r, ok := cities[text]; ok {
		return r, true
	}
	return "", false
}
