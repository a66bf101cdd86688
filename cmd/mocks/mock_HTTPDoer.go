// Hand-written in the shape of a mockery v2 mock; no generator produces this file.

package mocks

import (
	"net/http"

	mock "github.com/stretchr/testify/mock"
)

// MockHTTPDoer is a hand-written mock type for the httpDoer type.
type MockHTTPDoer struct {
	mock.Mock
}

type MockHTTPDoer_Expecter struct {
	mock *mock.Mock
}

func (m *MockHTTPDoer) EXPECT() *MockHTTPDoer_Expecter {
	return &MockHTTPDoer_Expecter{mock: &m.Mock}
}

// Do provides a mock function for the Do method.
func (m *MockHTTPDoer) Do(req *http.Request) (*http.Response, error) {
	ret := m.Called(req)

	var r0 *http.Response
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*http.Response)
	}
	return r0, ret.Error(1)
}

type MockHTTPDoer_Do_Call struct {
	*mock.Call
}

func (e *MockHTTPDoer_Expecter) Do(req any) *MockHTTPDoer_Do_Call {
	return &MockHTTPDoer_Do_Call{Call: e.mock.On("Do", req)}
}

func (c *MockHTTPDoer_Do_Call) Run(run func(req *http.Request)) *MockHTTPDoer_Do_Call {
	c.Call.Run(func(args mock.Arguments) {
		run(args[0].(*http.Request))
	})
	return c
}

func (c *MockHTTPDoer_Do_Call) Return(resp *http.Response, err error) *MockHTTPDoer_Do_Call {
	c.Call.Return(resp, err)
	return c
}

func (c *MockHTTPDoer_Do_Call) Once() *MockHTTPDoer_Do_Call {
	c.Call.Once()
	return c
}

// NewMockHTTPDoer creates a new instance of MockHTTPDoer, registering a
// cleanup function to assert all expectations are met.
func NewMockHTTPDoer(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockHTTPDoer {
	m := &MockHTTPDoer{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}
