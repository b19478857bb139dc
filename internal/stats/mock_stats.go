package stats

import "github.com/stretchr/testify/mock"

var _ StatsProvider = (*MockStatsUpdater)(nil)

// MockStatsUpdater records counter calls for assertions.
type MockStatsUpdater struct {
	mock.Mock
}

// NewLenientMock returns a MockStatsUpdater that accepts any metric
// registration and any number of counter updates.
func NewLenientMock() *MockStatsUpdater {
	su := new(MockStatsUpdater)
	su.On("RegisterMetric", mock.Anything).Maybe()
	su.On("Incr", mock.Anything).Maybe()
	su.On("Decr", mock.Anything).Maybe()
	return su
}

func (m *MockStatsUpdater) Incr(name string) { m.Called(name) }

func (m *MockStatsUpdater) Decr(name string) { m.Called(name) }

func (m *MockStatsUpdater) RegisterMetric(name string) { m.Called(name) }

func (m *MockStatsUpdater) Run() { m.Called() }
