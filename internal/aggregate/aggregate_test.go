package aggregate

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/feedback-cli/internal/model"
)

func ev(phone, tag string, cat model.Category, pol model.Polarity, text string) model.TagEvent {
	return model.TagEvent{Phone: phone, CustomerID: "C" + phone, Tag: tag, Category: cat, Polarity: pol, Text: text}
}

func TestResolvePolarity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   []model.Polarity
		want model.Polarity
	}{
		{"mal wins", []model.Polarity{model.PolarityBien, model.PolarityNeutral, model.PolarityMal}, model.PolarityMal},
		{"bien over neutral", []model.Polarity{model.PolarityBien, model.PolarityNeutral}, model.PolarityBien},
		{"neutral only", []model.Polarity{model.PolarityNeutral}, model.PolarityNeutral},
		{"empty", nil, model.PolarityNeutral},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ResolvePolarity(tt.in))
		})
	}
}

func TestCustomerTags(t *testing.T) {
	t.Parallel()

	rows := CustomerTags([]model.TagEvent{
		ev("2", "mesero", model.CategoryAtencion, model.PolarityBien, "a"),
		ev("1", "mesero", model.CategoryAtencion, model.PolarityBien, "b"),
		ev("1", "mesero", model.CategoryAtencion, model.PolarityMal, "c"),
		ev("1", "precio", model.CategoryPrecioCalidad, model.PolarityNeutral, "d"),
	})

	want := []model.CustomerTag{
		{Phone: "1", Tag: "mesero", Category: model.CategoryAtencion, Polarity: model.PolarityMal},
		{Phone: "1", Tag: "precio", Category: model.CategoryPrecioCalidad, Polarity: model.PolarityNeutral},
		{Phone: "2", Tag: "mesero", Category: model.CategoryAtencion, Polarity: model.PolarityBien},
	}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Errorf("CustomerTags mismatch (-want +got):\n%s", diff)
	}
}

// mixOf builds comida rows with the given polarity counts.
func mixOf(bien, neutral, mal int) []model.CustomerTag {
	ps := make([]model.Polarity, 0, bien+neutral+mal)
	for range bien {
		ps = append(ps, model.PolarityBien)
	}
	for range neutral {
		ps = append(ps, model.PolarityNeutral)
	}
	for range mal {
		ps = append(ps, model.PolarityMal)
	}
	return rowsOf(model.CategoryComida, ps...)
}

func rowsOf(cat model.Category, ps ...model.Polarity) []model.CustomerTag {
	out := make([]model.CustomerTag, len(ps))
	for i, p := range ps {
		out[i] = model.CustomerTag{Phone: string(rune('a' + i)), Tag: "t", Category: cat, Polarity: p}
	}
	return out
}

func TestCategoryScore(t *testing.T) {
	t.Parallel()

	b, n, m := model.PolarityBien, model.PolarityNeutral, model.PolarityMal
	tests := []struct {
		name string
		rows []model.CustomerTag
		want float64
	}{
		{"no rows", nil, 5.0},
		{"all bien", rowsOf(model.CategoryComida, b, b, b), 10.0},
		{"all mal", rowsOf(model.CategoryComida, m, m), 0.0},
		{"half bien half neutral", rowsOf(model.CategoryComida, b, n), 7.5},
		{"thirds", rowsOf(model.CategoryComida, b, m, m), 3.3},
		{"tie rounds to even", rowsOf(model.CategoryComida, b, m, m, m, m, m, m, m), 1.2},
		{"other category ignored", rowsOf(model.CategoryAmbiente, m), 5.0},
		{"73 bien 1 neutral of 100", mixOf(73, 1, 26), 7.3},
		{"1 neutral of 100", mixOf(0, 1, 99), 0.1},
		{"60 bien 9 neutral of 100", mixOf(60, 9, 31), 6.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.InDelta(t, tt.want, CategoryScore(tt.rows, model.CategoryComida), 1e-9)
		})
	}
}

func TestScores(t *testing.T) {
	t.Parallel()

	rows := append(rowsOf(model.CategoryAtencion, model.PolarityBien, model.PolarityMal),
		rowsOf(model.CategoryComida, model.PolarityNeutral)...)
	s := Scores(rows)
	assert.InDelta(t, 5.0, s.Atencion, 1e-9)
	assert.InDelta(t, 5.0, s.Comida, 1e-9)
	assert.InDelta(t, 5.0, s.Ambiente, 1e-9)
	assert.Equal(t, 1, s.Positivos)
	assert.Equal(t, 1, s.Negativos)
	assert.Equal(t, 1, s.Neutros)
}

func TestSortInsights(t *testing.T) {
	t.Parallel()

	insights := []model.TagInsight{
		{Tag: "A", Mal: 3},
		{Tag: "C", Mal: 1},
		{Tag: "B", Mal: 3, Neutral: 1},
	}
	SortInsights(insights)
	got := []string{insights[0].Tag, insights[1].Tag, insights[2].Tag}
	assert.Equal(t, []string{"B", "A", "C"}, got)

	t.Run("ties by tag then category", func(t *testing.T) {
		t.Parallel()
		insights := []model.TagInsight{
			{Tag: "z", Category: model.CategoryComida, Bien: 1},
			{Tag: "a", Category: model.CategoryComida, Bien: 1},
			{Tag: "a", Category: model.CategoryAmbiente, Bien: 1},
		}
		SortInsights(insights)
		assert.Equal(t, "a", insights[0].Tag)
		assert.Equal(t, model.CategoryAmbiente, insights[0].Category)
		assert.Equal(t, "z", insights[2].Tag)
	})
}

func TestInsights_Comments(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", 200)
	events := []model.TagEvent{
		ev("1", "mesero", model.CategoryAtencion, model.PolarityBien, "uno"),
		ev("2", "mesero", model.CategoryAtencion, model.PolarityBien, "uno"),
		ev("3", "mesero", model.CategoryAtencion, model.PolarityBien, long),
		ev("4", "mesero", model.CategoryAtencion, model.PolarityBien, "tres"),
		ev("5", "mesero", model.CategoryAtencion, model.PolarityBien, "cuatro"),
		ev("6", "mesero", model.CategoryAtencion, model.PolarityMal, "malo"),
	}
	insights := Insights(events, CustomerTags(events))
	require.Len(t, insights, 1)

	in := insights[0]
	assert.Equal(t, 5, in.Bien)
	assert.Equal(t, 1, in.Mal)
	assert.Equal(t, 4, in.Balance)
	assert.Equal(t, 6, in.Total)
	assert.Equal(t, []string{"uno", strings.Repeat("x", 180), "tres"}, in.Comments.Bien)
	assert.Equal(t, []string{"malo"}, in.Comments.Mal)
	assert.Empty(t, in.Comments.Neutral)

	assert.Equal(t, NoComments, Preview(in.Comments, model.PolarityNeutral))
	assert.Equal(t, "• malo", Preview(in.Comments, model.PolarityMal))
}

func TestStrengthsAndWeaknesses(t *testing.T) {
	t.Parallel()

	insights := []model.TagInsight{
		{Tag: "a", Bien: 5, Mal: 1, Balance: 4},
		{Tag: "b", Bien: 6, Mal: 2, Balance: 4},
		{Tag: "c", Bien: 2, Balance: 2},
		{Tag: "d", Bien: 1, Balance: 1},
		{Tag: "e", Mal: 3, Balance: -3},
		{Tag: "f", Bien: 1, Mal: 4, Balance: -3},
		{Tag: "g", Mal: 1, Balance: -1},
		{Tag: "h", Mal: 2, Balance: -2},
	}

	var tags []string
	for _, in := range Strengths(insights) {
		tags = append(tags, in.Tag)
	}
	assert.Equal(t, []string{"b", "a", "c"}, tags)

	tags = nil
	for _, in := range Weaknesses(insights) {
		tags = append(tags, in.Tag)
	}
	assert.Equal(t, []string{"f", "e", "h"}, tags)

	t.Run("weakness fallback uses mal counts", func(t *testing.T) {
		t.Parallel()
		got := Weaknesses([]model.TagInsight{
			{Tag: "x", Bien: 5, Mal: 1, Balance: 4},
			{Tag: "y", Bien: 3, Mal: 2, Balance: 1},
			{Tag: "z", Bien: 2, Mal: 2, Balance: 0},
		})
		require.Len(t, got, 3)
		assert.Equal(t, "z", got[0].Tag)
		assert.Equal(t, "y", got[1].Tag)
		assert.Equal(t, "x", got[2].Tag)
	})

	assert.Empty(t, Weaknesses([]model.TagInsight{{Tag: "ok", Bien: 1, Balance: 1}}))
}

func TestKeyThemes(t *testing.T) {
	t.Parallel()

	insights := []model.TagInsight{
		{Tag: "ceviche", Category: model.CategoryComida, Bien: 4, Balance: 4},
		{Tag: "mesero", Category: model.CategoryAtencion, Bien: 5, Mal: 3, Balance: 2},
		{Tag: "postres", Category: model.CategoryComida, Bien: 1, Balance: 1},
		{Tag: "precio", Category: model.CategoryPrecioCalidad, Mal: 2, Balance: -2},
	}

	want := model.KeyThemes{
		TopPraises: []string{
			"ceviche (4 clientes, balance +4)",
			"mesero (5 clientes, balance +2)",
			"postres (1 clientes, balance +1)",
		},
		TopComplaints: []string{
			"mesero (3 clientes, balance +2)",
			"precio (2 clientes, balance -2)",
		},
		TopDishes: []string{
			"ceviche (4 clientes, balance +4)",
			"postres (1 clientes, balance +1)",
		},
		ImprovementAreas: []string{
			"mesero (3 clientes, balance +2)",
			"precio (2 clientes, balance -2)",
		},
	}
	if diff := cmp.Diff(want, KeyThemes(insights)); diff != "" {
		t.Errorf("KeyThemes mismatch (-want +got):\n%s", diff)
	}

	empty := KeyThemes(nil)
	assert.NotNil(t, empty.TopPraises)
	assert.Empty(t, empty.ImprovementAreas)
}

func TestBuild(t *testing.T) {
	t.Parallel()

	events := []model.TagEvent{
		ev("1", "mesero", model.CategoryAtencion, model.PolarityBien, "amable"),
		ev("1", "mesero", model.CategoryAtencion, model.PolarityNeutral, "normal"),
		ev("2", "mesero", model.CategoryAtencion, model.PolarityBien, "rápido"),
		ev("2", "precio", model.CategoryPrecioCalidad, model.PolarityMal, "caro"),
		ev("3", "precio", model.CategoryPrecioCalidad, model.PolarityMal, "muy caro"),
	}

	r := Build(events)
	assert.Equal(t, 5, r.Events)
	assert.Equal(t, 3, r.Customers)
	assert.Len(t, r.CustomerTags, 4)
	assert.InDelta(t, 10.0, r.Scores.Atencion, 1e-9)
	assert.InDelta(t, 0.0, r.Scores.PrecioCalidad, 1e-9)
	assert.InDelta(t, 5.0, r.Scores.Comida, 1e-9)
	assert.Equal(t, "mesero", r.BestTag)
	assert.Equal(t, "precio", r.WorstTag)
	require.Len(t, r.Insights, 2)
	assert.Equal(t, "precio", r.Insights[0].Tag)
	require.Len(t, r.Strengths, 1)
	require.Len(t, r.Weaknesses, 1)

	empty := Build(nil)
	assert.Equal(t, NoPositiveFindings, empty.BestTag)
	assert.Equal(t, NoNegativeFindings, empty.WorstTag)
	assert.Zero(t, empty.Customers)
}

func TestFormatTag(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "mesero (3 clientes, balance +0)", FormatTag("mesero", 3, 0))
	assert.Equal(t, "precio (2 clientes, balance -2)", FormatTag("precio", 2, -2))
}
