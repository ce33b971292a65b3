package testutils

import (
	"github.com/sirupsen/logrus"
	"github.com/srg/blimp/internal/peripheral"
	"github.com/stretchr/testify/suite"
)

// PeripheralSuite provides a peripheral manager wired to a FakeTransport for every test.
//
// Basic usage:
//
//	type UpdateSuite struct {
//	    testutils.PeripheralSuite
//	}
//
//	func TestUpdateSuite(t *testing.T) {
//	    suite.Run(t, new(UpdateSuite))
//	}
//
//	func (s *UpdateSuite) TestSomething() {
//	    char := s.AddCharacteristic("2a37", peripheral.PropertyNotify)
//	    s.Transport.Reject()
//	    s.False(char.Update([]byte{1}))
//	}
type PeripheralSuite struct {
	suite.Suite

	Helper    *TestHelper
	Logger    *logrus.Logger
	Transport *FakeTransport
	Journal   *peripheral.Journal
	Manager   *peripheral.PeripheralManager
	Service   *peripheral.MutableService
}

// SetupSuite initializes the helper and logger once per suite.
func (s *PeripheralSuite) SetupSuite() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
}

// SetupTest creates a fresh manager, transport and an empty service (180d) before each test.
func (s *PeripheralSuite) SetupTest() {
	journal, err := peripheral.NewJournal(64)
	s.Require().NoError(err, "journal MUST be created")

	s.Journal = journal
	s.Transport = NewFakeTransport()
	s.Manager = peripheral.NewPeripheralManager(s.Logger,
		peripheral.WithTransport(s.Transport),
		peripheral.WithJournal(journal),
	)

	svc, err := peripheral.NewMutableService("180d", "Heart Rate")
	s.Require().NoError(err, "service MUST be created")
	s.Service = svc
}

// TearDownTest stops all write streams.
func (s *PeripheralSuite) TearDownTest() {
	if s.Manager != nil {
		s.Manager.Close()
	}
}

// AddCharacteristic creates a characteristic with props, attaches it to the suite service
// and registers the service with the manager. Call it once per test; for several
// characteristics use AddCharacteristics.
func (s *PeripheralSuite) AddCharacteristic(uuid string, props peripheral.Properties) *peripheral.MutableCharacteristic {
	return s.AddCharacteristics(map[string]peripheral.Properties{uuid: props})[peripheral.NormalizeUUID(uuid)]
}

// AddCharacteristics attaches several characteristics and registers the suite service.
// The result is keyed by normalized UUID.
func (s *PeripheralSuite) AddCharacteristics(chars map[string]peripheral.Properties) map[string]*peripheral.MutableCharacteristic {
	out := make(map[string]*peripheral.MutableCharacteristic, len(chars))
	for uuid, props := range chars {
		c, err := peripheral.NewCharacteristic(uuid, props, peripheral.PermissionReadable|peripheral.PermissionWriteable, nil)
		s.Require().NoError(err, "characteristic MUST be created")
		s.Require().NoError(s.Service.AddCharacteristic(c), "characteristic MUST be added")
		out[c.UUID()] = c
	}
	s.Require().NoError(s.Manager.AddService(s.Service), "service MUST be added")
	return out
}
