package portfolioService

import (
	"testing"

	"github.com/aformenti/portfolio_earnings_bot/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rankableRow(owner, stock, earning string) model.ValuedTransaction {
	return model.ValuedTransaction{
		Transaction: model.Transaction{Owner: owner, Stock: stock},
		Status:      model.SellClosed,
		Earning:     dec(earning),
		Valued:      true,
	}
}

func TestTopN_Highest(t *testing.T) {
	rows := []model.ValuedTransaction{
		rankableRow("alice", "Acme", "10"),
		rankableRow("bob", "Globex", "30"),
		rankableRow("carol", "Initech", "-5"),
		rankableRow("dave", "Umbrella", "20"),
	}

	ranking := topN(rows, 3, true)

	require.Len(t, ranking.Rows, 3)
	assert.Equal(t, "bob - Globex", ranking.Rows[0].Label)
	assert.Equal(t, "dave - Umbrella", ranking.Rows[1].Label)
	assert.Equal(t, "alice - Acme", ranking.Rows[2].Label)

	assert.True(t, ranking.Highest)
	assert.True(t, ranking.AxisMin.IsZero())
	assert.True(t, ranking.AxisMax.Equal(dec("36")), "30 * 1.2, got %s", ranking.AxisMax)
}

func TestTopN_Lowest(t *testing.T) {
	rows := []model.ValuedTransaction{
		rankableRow("alice", "Acme", "10"),
		rankableRow("bob", "Globex", "-30"),
		rankableRow("carol", "Initech", "-5"),
	}

	ranking := topN(rows, 2, false)

	require.Len(t, ranking.Rows, 2)
	assert.Equal(t, "bob - Globex", ranking.Rows[0].Label)
	assert.Equal(t, "carol - Initech", ranking.Rows[1].Label)

	assert.False(t, ranking.Highest)
	assert.True(t, ranking.AxisMin.Equal(dec("-36")), "-30 * 1.2, got %s", ranking.AxisMin)
	assert.True(t, ranking.AxisMax.IsZero())
}

func TestTopN_WorstWithoutLossesFlipsToBestLayout(t *testing.T) {
	rows := []model.ValuedTransaction{
		rankableRow("alice", "Acme", "10"),
		rankableRow("bob", "Globex", "30"),
	}

	ranking := topN(rows, 2, false)

	require.Len(t, ranking.Rows, 2)
	assert.True(t, ranking.Highest, "all-gains worst chart flips to the best layout")
	assert.True(t, ranking.AxisMin.IsZero())
	assert.True(t, ranking.AxisMax.Equal(dec("36")), "last row holds the max, got %s", ranking.AxisMax)
}

func TestTopN_ExcludesOpenAndUnvalued(t *testing.T) {
	open := rankableRow("alice", "Acme", "100")
	open.Status = model.SellResolvedOpen

	unvalued := rankableRow("bob", "Globex", "200")
	unvalued.Valued = false

	rows := []model.ValuedTransaction{
		open,
		unvalued,
		rankableRow("carol", "Initech", "5"),
	}

	ranking := topN(rows, 3, true)

	require.Len(t, ranking.Rows, 1)
	assert.Equal(t, "carol - Initech", ranking.Rows[0].Label)
}

func TestTopN_DuplicateLabelsSuffixed(t *testing.T) {
	rows := []model.ValuedTransaction{
		rankableRow("alice", "Acme", "30"),
		rankableRow("alice", "Acme", "20"),
		rankableRow("alice", "Acme", "10"),
	}

	ranking := topN(rows, 3, true)

	require.Len(t, ranking.Rows, 3)
	assert.Equal(t, "alice - Acme", ranking.Rows[0].Label)
	assert.Equal(t, "alice - Acme (2)", ranking.Rows[1].Label)
	assert.Equal(t, "alice - Acme (3)", ranking.Rows[2].Label)
}

func TestTopN_TiesKeepRowOrder(t *testing.T) {
	rows := []model.ValuedTransaction{
		rankableRow("alice", "Acme", "10"),
		rankableRow("bob", "Globex", "10"),
	}

	ranking := topN(rows, 2, true)

	require.Len(t, ranking.Rows, 2)
	assert.Equal(t, "alice - Acme", ranking.Rows[0].Label)
	assert.Equal(t, "bob - Globex", ranking.Rows[1].Label)
}

func TestTopN_NLargerThanSet(t *testing.T) {
	ranking := topN([]model.ValuedTransaction{rankableRow("alice", "Acme", "10")}, 5, true)
	assert.Len(t, ranking.Rows, 1)
}

func TestTopN_Empty(t *testing.T) {
	ranking := topN(nil, 3, true)
	assert.Empty(t, ranking.Rows)
	assert.True(t, ranking.AxisMin.IsZero())
	assert.True(t, ranking.AxisMax.IsZero())
}
