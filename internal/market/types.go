package market

import (
	"fmt"
	"sort"
	"time"
)

// Candle 代表单根K线。
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Table 是按时间升序索引的行情表，供指标计算与策略消费。
type Table struct {
	Symbol     string
	Timeframe  string
	Timestamps []time.Time
	Open       []float64
	High       []float64
	Low        []float64
	Close      []float64
	Volume     []float64
}

// NewTable 从K线构建行情表，按时间升序排列。
func NewTable(symbol, timeframe string, candles []Candle) Table {
	sorted := make([]Candle, len(candles))
	copy(sorted, candles)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	table := Table{
		Symbol:     symbol,
		Timeframe:  timeframe,
		Timestamps: make([]time.Time, len(sorted)),
		Open:       make([]float64, len(sorted)),
		High:       make([]float64, len(sorted)),
		Low:        make([]float64, len(sorted)),
		Close:      make([]float64, len(sorted)),
		Volume:     make([]float64, len(sorted)),
	}

	for i, candle := range sorted {
		table.Timestamps[i] = candle.Timestamp.UTC()
		table.Open[i] = candle.Open
		table.High[i] = candle.High
		table.Low[i] = candle.Low
		table.Close[i] = candle.Close
		table.Volume[i] = candle.Volume
	}

	return table
}

// Len 返回行情表行数。
func (t Table) Len() int {
	return len(t.Close)
}

// Identity 返回行情表的内容标识，用作指标缓存键的组成部分。
func (t Table) Identity() string {
	if t.Len() == 0 {
		return fmt.Sprintf("%s:%s:empty", t.Symbol, t.Timeframe)
	}
	last := t.Timestamps[t.Len()-1].Unix()
	return fmt.Sprintf("%s:%s:%d:%d", t.Symbol, t.Timeframe, t.Len(), last)
}

// LastClose 返回最新收盘价，空表返回0。
func (t Table) LastClose() float64 {
	if t.Len() == 0 {
		return 0
	}
	return t.Close[t.Len()-1]
}
