// scenario.go declares the closed set of emission scenarios and their card
// attributes: the state label shown in the header, which price the card
// displays, and whether cumulative aggregates are included.
package aggregator

import "github.com/laodaluo/futures-watch/pkg/types"

// State labels.
const (
	labelCreated  = "创建"
	labelPartial  = "部分成交"
	labelFilled   = "成交"
	labelCanceled = "取消"
)

type priceSource int

const (
	priceAverage priceSource = iota
	priceOrder
)

type scenarioSpec struct {
	stateLabel        string
	price             priceSource
	includeCumulative bool
}

var scenarioSpecs = map[types.Scenario]scenarioSpec{
	types.ScenarioSLTPNew:              {labelCreated, priceOrder, false},
	types.ScenarioSLTPPartialTimeout:   {labelPartial, priceAverage, true},
	types.ScenarioSLTPPartialCompleted: {labelFilled, priceAverage, true},
	types.ScenarioSLTPFilled:           {labelFilled, priceAverage, true},
	types.ScenarioSLTPPartialCanceled:  {labelCanceled, priceAverage, true},
	types.ScenarioSLTPCanceled:         {labelCanceled, priceOrder, false},
	types.ScenarioGeneralTimeout:       {labelPartial, priceAverage, true},
	types.ScenarioGeneralAggregated:    {labelFilled, priceAverage, true},
	types.ScenarioGeneralSingle:        {labelFilled, priceAverage, true},
	types.ScenarioGeneralPartialCancel: {labelCanceled, priceAverage, true},
}
