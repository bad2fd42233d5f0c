package parser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vqhuy/lawrag-mcp/internal/lawtree"
)

const sampleLaw = `BỘ LUẬT DÂN SỰ

PHẦN THỨ NHẤT
QUY ĐỊNH CHUNG
CHƯƠNG I
NHỮNG QUY ĐỊNH CHUNG
Điều 1. Phạm vi điều chỉnh
1. Bộ luật này quy định địa vị pháp lý của cá nhân.
2. Bộ luật này bảo vệ quyền và lợi ích hợp pháp.
Điều 2. Công nhận quyền dân sự
Mọi quyền dân sự đều được công nhận và bảo vệ.
CHƯƠNG II
XÁC LẬP QUYỀN
Mục 1
GIAO DỊCH DÂN SỰ
Điều 3. Nguyên tắc cơ bản
1. Mọi cá nhân, pháp nhân đều bình đẳng.
PHẦN THỨ HAI
QUYỀN SỞ HỮU
CHƯƠNG III
TÀI SẢN
Điều 4. Tài sản
Tài sản là vật, tiền, giấy tờ có giá và quyền tài sản.
`

func TestParseSampleLaw(t *testing.T) {
	tree, stats, err := New().Parse(sampleLaw)
	require.NoError(t, err)

	assert.Equal(t, "BỘ LUẬT DÂN SỰ", tree.Title)
	assert.Equal(t, 2, stats.Parts)
	assert.Equal(t, 3, stats.Chapters)
	assert.Equal(t, 1, stats.Sections)
	assert.Equal(t, 4, stats.Articles)

	require.Len(t, tree.Parts, 2)
	part1 := tree.Parts[0]
	require.Len(t, part1.Children, 2)

	// Chapter I holds articles directly.
	ch1 := part1.Children[0]
	require.Len(t, ch1.Children, 2)
	art1 := ch1.Children[0]
	assert.Equal(t, "Điều 1. Phạm vi điều chỉnh", art1.Title)
	require.Len(t, art1.Children, 2)
	assert.Equal(t, "Khoản 1", art1.Children[0].Title)
	assert.Equal(t, lawtree.LevelClause, art1.Children[0].Level)
	assert.Contains(t, art1.Children[0].Content, "địa vị pháp lý")
	assert.Equal(t, "Khoản 2", art1.Children[1].Title)

	// Unnumbered body collapses into a single clause.
	art2 := ch1.Children[1]
	require.Len(t, art2.Children, 1)
	assert.Equal(t, "Khoản 1", art2.Children[0].Title)
	assert.Contains(t, art2.Children[0].Content, "công nhận và bảo vệ")

	// Chapter II routes its article through the section tier.
	ch2 := part1.Children[1]
	require.Len(t, ch2.Children, 1)
	sec := ch2.Children[0]
	assert.Equal(t, lawtree.LevelSection, sec.Level)
	require.Len(t, sec.Children, 1)
	assert.Equal(t, "Điều 3. Nguyên tắc cơ bản", sec.Children[0].Title)
}

func TestParseNoStructure(t *testing.T) {
	_, _, err := New().Parse("đây chỉ là một đoạn văn bản thường\nkhông có cấu trúc luật")
	assert.Error(t, err)
}

func TestParseMissingTitle(t *testing.T) {
	text := strings.Replace(sampleLaw, "BỘ LUẬT DÂN SỰ", "tài liệu không tên", 1)
	tree, _, err := New().Parse(text)
	require.NoError(t, err)
	assert.Equal(t, DefaultTitle, tree.Title)
}

func TestSplitClauses(t *testing.T) {
	clauses := SplitClauses("1. Khoản đầu tiên. 2. Khoản thứ hai.")
	require.Len(t, clauses, 2)
	assert.Equal(t, "Khoản 1", clauses[0].Title)
	assert.Equal(t, "Khoản đầu tiên.", clauses[0].Content)
	assert.Equal(t, "Khoản 2", clauses[1].Title)

	single := SplitClauses("Nội dung không đánh số")
	require.Len(t, single, 1)
	assert.Equal(t, "Khoản 1", single[0].Title)

	assert.Nil(t, SplitClauses("   "))
}
