package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// StockMetrics implements stock.Recorder on Prometheus counters. A nil
// receiver drops every observation.
type StockMetrics struct {
	operations      *prometheus.CounterVec
	discrepancies   prometheus.Counter
	negativeStock   prometheus.Counter
	repairChecked   prometheus.Counter
	repairCorrected prometheus.Counter
}

// NewStockMetrics registers the stock collectors against registerer.
func NewStockMetrics(registerer prometheus.Registerer) *StockMetrics {
	m := &StockMetrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ventas_stock_operations_total",
			Help: "Sales and returns by outcome code.",
		}, []string{"operation", "outcome"}),
		discrepancies: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ventas_stock_unit_discrepancy_total",
			Help: "Returns whose client unit disagreed with the unit recorded on the sale.",
		}),
		negativeStock: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ventas_stock_negative_total",
			Help: "Ledger entries driven below zero while negative stock is allowed.",
		}),
		repairChecked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ventas_stock_repair_checked_total",
			Help: "Products inspected by repair sweeps.",
		}),
		repairCorrected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ventas_stock_repair_corrected_total",
			Help: "Products whose stored total a repair sweep rewrote.",
		}),
	}
	registerer.MustRegister(m.operations, m.discrepancies, m.negativeStock, m.repairChecked, m.repairCorrected)
	return m
}

func (m *StockMetrics) ObserveOperation(op, outcome string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, outcome).Inc()
}

func (m *StockMetrics) ObserveUnitDiscrepancy() {
	if m == nil {
		return
	}
	m.discrepancies.Inc()
}

func (m *StockMetrics) ObserveNegativeStock() {
	if m == nil {
		return
	}
	m.negativeStock.Inc()
}

func (m *StockMetrics) ObserveRepair(checked, corrected int) {
	if m == nil {
		return
	}
	m.repairChecked.Add(float64(checked))
	m.repairCorrected.Add(float64(corrected))
}
