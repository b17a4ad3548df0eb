// Copyright 2016 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Code generated by MockGen for Anchor. Hand-maintained here in the same
// shape mockgen would emit, since the corpus's storage/cache package
// generates its NodeStorage mock the same way.

package commitment

import (
	"context"
	"reflect"

	"github.com/golang/mock/gomock"

	"github.com/verifidb/verifidb/digest"
)

// MockAnchor is a mock of the Anchor interface.
type MockAnchor struct {
	ctrl     *gomock.Controller
	recorder *MockAnchorMockRecorder
}

// MockAnchorMockRecorder is the mock recorder for MockAnchor.
type MockAnchorMockRecorder struct {
	mock *MockAnchor
}

// NewMockAnchor creates a new mock instance.
func NewMockAnchor(ctrl *gomock.Controller) *MockAnchor {
	mock := &MockAnchor{ctrl: ctrl}
	mock.recorder = &MockAnchorMockRecorder{mock}
	return mock
}

// EXPECT returns an object that allows the caller to indicate expected use.
func (m *MockAnchor) EXPECT() *MockAnchorMockRecorder {
	return m.recorder
}

// Initialize mocks base method.
func (m *MockAnchor) Initialize(ctx context.Context) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Initialize", ctx)
	ret0, _ := ret[0].(error)
	return ret0
}

// Initialize indicates an expected call of Initialize.
func (mr *MockAnchorMockRecorder) Initialize(ctx interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Initialize", reflect.TypeOf((*MockAnchor)(nil).Initialize), ctx)
}

// ReadRoot mocks base method.
func (m *MockAnchor) ReadRoot(ctx context.Context) (digest.D, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "ReadRoot", ctx)
	ret0, _ := ret[0].(digest.D)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// ReadRoot indicates an expected call of ReadRoot.
func (mr *MockAnchorMockRecorder) ReadRoot(ctx interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "ReadRoot", reflect.TypeOf((*MockAnchor)(nil).ReadRoot), ctx)
}

// WriteRoot mocks base method.
func (m *MockAnchor) WriteRoot(ctx context.Context, root digest.D) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "WriteRoot", ctx, root)
	ret0, _ := ret[0].(error)
	return ret0
}

// WriteRoot indicates an expected call of WriteRoot.
func (mr *MockAnchorMockRecorder) WriteRoot(ctx, root interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "WriteRoot", reflect.TypeOf((*MockAnchor)(nil).WriteRoot), ctx, root)
}
