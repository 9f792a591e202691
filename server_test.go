package iec61850

import (
	"errors"
	"testing"
	"time"
)

// buildIOModel is the model most tests run against: one generic IO node with
// status points, a measurement, a nameplate and report control blocks over an
// Events data set.
func buildIOModel(t *testing.T) *IedModel {
	t.Helper()
	model := NewIedModel("test")
	ld := model.CreateLogicalDevice("testLD")
	lln0 := model.CreateLogicalNode(ld, "LLN0")
	ggio := model.CreateLogicalNode(ld, "GGIO1")

	namPlt := model.CreateDataObject(ggio, "NamPlt")
	model.CreateDataAttribute(namPlt, "vendor", VisibleString, DC, TRG_OPT_NONE,
		NewVisibleStringMmsValue("testvendor"))

	for _, name := range []string{"Ind1", "Ind2", "Ind3", "Ind4"} {
		ind := model.CreateDataObject(ggio, name)
		model.CreateDataAttribute(ind, "stVal", Boolean, ST, TRG_OPT_DATA_CHANGED,
			NewBooleanMmsValue(false))
		model.CreateDataAttribute(ind, "q", BitString, ST, TRG_OPT_QUALITY_CHANGED,
			NewBitStringMmsValue(0))
		model.CreateDataAttribute(ind, "t", UTCTime, ST, TRG_OPT_NONE,
			NewUTCTimeMmsValue(time.Now()))
	}

	anIn := model.CreateDataObject(ggio, "AnIn1")
	mag := model.CreateDataAttribute(anIn, "mag", Structure, MX, TRG_OPT_NONE, nil)
	model.CreateDataAttribute(mag, "f", Float, MX, TRG_OPT_DATA_CHANGED,
		NewFloatMmsValue(1.5))

	if _, err := model.CreateDataSet(lln0, "Events",
		"testLD/GGIO1.Ind1.stVal[ST]",
		"testLD/GGIO1.Ind2.stVal[ST]",
		"testLD/GGIO1.Ind3.stVal[ST]",
		"testLD/GGIO1.Ind4.stVal[ST]",
	); err != nil {
		t.Fatalf("CreateDataSet failed: %v", err)
	}
	model.CreateReportControlBlock(lln0, "urcb01", false, RCBOptions{
		RptID:  "events01",
		DatSet: "testLD/LLN0.Events",
		TrgOps: TrgOps{DataChange: true, Gi: true},
	})
	model.CreateReportControlBlock(lln0, "brcb01", true, RCBOptions{
		RptID:  "events02",
		DatSet: "testLD/LLN0.Events",
		TrgOps: TrgOps{DataChange: true, Gi: true},
	})
	return model
}

// startServer brings up a server for the model and tears it down with the
// test.
func startServer(t *testing.T, cfg *ServerConfig, model *IedModel) *IedServer {
	t.Helper()
	server, err := NewServerWithConfig(cfg, model)
	if err != nil {
		t.Fatalf("NewServerWithConfig failed: %v", err)
	}
	server.Start(102)
	t.Cleanup(server.Destroy)
	return server
}

// connect opens an in-process client association.
func connect(t *testing.T, server *IedServer) *Client {
	t.Helper()
	transport, err := server.Accept("test-client")
	if err != nil {
		t.Fatalf("Accept failed: %v", err)
	}
	client, err := NewClient(Settings{Transport: transport})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestReadAttribute(t *testing.T) {
	model := buildIOModel(t)
	server := startServer(t, nil, model)
	client := connect(t, server)

	v, err := client.ReadBool("testLD/GGIO1.Ind1.stVal", ST)
	if err != nil {
		t.Fatalf("ReadBool failed: %v", err)
	}
	if v {
		t.Error("expected initial stVal false")
	}

	f, err := client.ReadFloat("testLD/GGIO1.AnIn1.mag.f", MX)
	if err != nil {
		t.Fatalf("ReadFloat failed: %v", err)
	}
	if f != 1.5 {
		t.Errorf("expected 1.5, got %f", f)
	}

	s, err := client.ReadString("testLD/GGIO1.NamPlt.vendor", DC)
	if err != nil {
		t.Fatalf("ReadString failed: %v", err)
	}
	if s != "testvendor" {
		t.Errorf("expected testvendor, got %q", s)
	}
}

func TestReadWrongFC(t *testing.T) {
	model := buildIOModel(t)
	server := startServer(t, nil, model)
	client := connect(t, server)

	if _, err := client.ReadBool("testLD/GGIO1.Ind1.stVal", MX); err == nil {
		t.Fatal("expected error reading an ST attribute with FC=MX")
	}
}

func TestReadUnknownObject(t *testing.T) {
	model := buildIOModel(t)
	server := startServer(t, nil, model)
	client := connect(t, server)

	_, err := client.ReadBool("testLD/GGIO1.NoSuch.stVal", ST)
	if !errors.Is(err, IED_ERROR_OBJECT_DOES_NOT_EXIST) {
		t.Fatalf("expected IED_ERROR_OBJECT_DOES_NOT_EXIST, got %v", err)
	}
}

func TestReadDataObjectStructure(t *testing.T) {
	model := buildIOModel(t)
	server := startServer(t, nil, model)
	client := connect(t, server)

	v, err := client.ReadObject("testLD/GGIO1.Ind1", ST)
	if err != nil {
		t.Fatalf("ReadObject failed: %v", err)
	}
	if v.Type != Structure {
		t.Fatalf("expected a structure, got %v", v.Type)
	}
	// stVal, q and t all carry FC=ST
	elems := v.Value.([]*MmsValue)
	if len(elems) != 3 {
		t.Fatalf("expected 3 elements, got %d", len(elems))
	}
	if elems[0].Type != Boolean {
		t.Errorf("expected Boolean stVal first, got %v", elems[0].Type)
	}
}

func TestWritePolicy(t *testing.T) {
	model := buildIOModel(t)
	server := startServer(t, nil, model)
	client := connect(t, server)

	// DC writes are denied until a policy allows them.
	if err := client.Write("testLD/GGIO1.NamPlt.vendor", DC, "other"); err == nil {
		t.Fatal("expected DC write to be denied by default")
	}

	server.SetWriteAccessPolicy(DC, ACCESS_POLICY_ALLOW)
	if err := client.Write("testLD/GGIO1.NamPlt.vendor", DC, "other"); err != nil {
		t.Fatalf("Write failed after allow: %v", err)
	}
	s, err := client.ReadString("testLD/GGIO1.NamPlt.vendor", DC)
	if err != nil {
		t.Fatalf("ReadString failed: %v", err)
	}
	if s != "other" {
		t.Errorf("expected written value, got %q", s)
	}
}

func TestWriteAccessHandler(t *testing.T) {
	model := buildIOModel(t)
	server := startServer(t, nil, model)
	client := connect(t, server)

	vendor := model.GetModelNodeByObjectReference("testLD/GGIO1.NamPlt.vendor")
	var sawValue string
	server.HandleWriteAccess(vendor, func(da *ModelNode, value *MmsValue, conn *ClientConnection) MmsDataAccessError {
		sawValue = value.ToString()
		if sawValue == "forbidden" {
			return DATA_ACCESS_ERROR_OBJECT_ACCESS_DENIED
		}
		return DATA_ACCESS_ERROR_SUCCESS
	})

	if err := client.Write("testLD/GGIO1.NamPlt.vendor", DC, "forbidden"); err == nil {
		t.Fatal("expected handler to reject the write")
	}
	if err := client.Write("testLD/GGIO1.NamPlt.vendor", DC, "granted"); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if sawValue != "granted" {
		t.Errorf("handler saw %q", sawValue)
	}
}

func TestWriteTypeMismatch(t *testing.T) {
	model := buildIOModel(t)
	server := startServer(t, nil, model)
	client := connect(t, server)

	server.SetWriteAccessPolicy(ST, ACCESS_POLICY_ALLOW)
	if err := client.Write("testLD/GGIO1.Ind1.stVal", ST, "not a bool"); err == nil {
		t.Fatal("expected type mismatch error")
	}
}

func TestUpdateAttributeReadBack(t *testing.T) {
	model := buildIOModel(t)
	server := startServer(t, nil, model)
	client := connect(t, server)

	f := model.GetModelNodeByObjectReference("testLD/GGIO1.AnIn1.mag.f")
	server.LockDataModel()
	server.UpdateFloatAttributeValue(f, 42.5)
	server.UnlockDataModel()

	v, err := client.ReadFloat("testLD/GGIO1.AnIn1.mag.f", MX)
	if err != nil {
		t.Fatalf("ReadFloat failed: %v", err)
	}
	if v != 42.5 {
		t.Errorf("expected 42.5, got %f", v)
	}
	got := server.GetAttributeValue(f)
	if got.ToFloat64() != 42.5 {
		t.Errorf("GetAttributeValue returned %v", got)
	}
}

func TestReadDataSet(t *testing.T) {
	model := buildIOModel(t)
	server := startServer(t, nil, model)
	client := connect(t, server)

	values, err := client.ReadDataSet("testLD/LLN0.Events")
	if err != nil {
		t.Fatalf("ReadDataSet failed: %v", err)
	}
	if len(values) != 4 {
		t.Fatalf("expected 4 members, got %d", len(values))
	}
	for i, v := range values {
		if v.Type != Boolean {
			t.Errorf("member %d: expected Boolean, got %v", i, v.Type)
		}
	}
}

func TestDirectories(t *testing.T) {
	model := buildIOModel(t)
	server := startServer(t, nil, model)
	client := connect(t, server)

	lds, err := client.GetLogicalDeviceList()
	if err != nil {
		t.Fatalf("GetLogicalDeviceList failed: %v", err)
	}
	if len(lds) != 1 || lds[0] != "testLD" {
		t.Fatalf("unexpected logical devices: %v", lds)
	}

	lns, err := client.GetLogicalDeviceDirectory("testLD")
	if err != nil {
		t.Fatalf("GetLogicalDeviceDirectory failed: %v", err)
	}
	if len(lns) != 2 {
		t.Fatalf("expected LLN0 and GGIO1, got %v", lns)
	}

	datasets, err := client.GetLogicalNodeDirectory("testLD/LLN0", ACSI_CLASS_DATA_SET)
	if err != nil {
		t.Fatalf("GetLogicalNodeDirectory failed: %v", err)
	}
	if len(datasets) != 1 || datasets[0] != "Events" {
		t.Fatalf("unexpected datasets: %v", datasets)
	}

	brcbs, err := client.GetLogicalNodeDirectory("testLD/LLN0", ACSI_CLASS_BRCB)
	if err != nil {
		t.Fatalf("GetLogicalNodeDirectory failed: %v", err)
	}
	if len(brcbs) != 1 || brcbs[0] != "brcb01" {
		t.Fatalf("unexpected BRCBs: %v", brcbs)
	}

	members, _, err := client.GetDataSetDirectory("testLD/LLN0.Events")
	if err != nil {
		t.Fatalf("GetDataSetDirectory failed: %v", err)
	}
	if len(members) != 4 {
		t.Fatalf("expected 4 member refs, got %v", members)
	}
}

func TestGetDataDirectory(t *testing.T) {
	model := buildIOModel(t)
	server := startServer(t, nil, model)
	client := connect(t, server)

	names, err := client.GetDataDirectory("testLD/GGIO1.Ind1")
	if err != nil {
		t.Fatalf("GetDataDirectory failed: %v", err)
	}
	if len(names) != 3 {
		t.Fatalf("expected stVal, q, t, got %v", names)
	}

	withFC, err := client.GetDataDirectoryFC("testLD/GGIO1.Ind1")
	if err != nil {
		t.Fatalf("GetDataDirectoryFC failed: %v", err)
	}
	found := false
	for _, n := range withFC {
		if n == "stVal[ST]" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected stVal[ST] in %v", withFC)
	}
}

func TestGetVariableSpecification(t *testing.T) {
	model := buildIOModel(t)
	server := startServer(t, nil, model)
	client := connect(t, server)

	spec, err := client.GetVariableSpecification("testLD/GGIO1.AnIn1", MX)
	if err != nil {
		t.Fatalf("GetVariableSpecification failed: %v", err)
	}
	if spec.Type != Structure {
		t.Fatalf("expected Structure, got %v", spec.Type)
	}
	mag, _ := spec.GetChildSpec("mag")
	if mag == nil {
		t.Fatal("expected mag child spec")
	}
	if f, _ := mag.GetChildSpec("f"); f == nil || f.Type != Float {
		t.Fatalf("expected float mag.f spec, got %+v", f)
	}
}

func TestMaxConnections(t *testing.T) {
	cfg := NewServerConfig()
	cfg.MaxConnections = 1
	model := buildIOModel(t)
	server := startServer(t, cfg, model)

	connect(t, server)
	if _, err := server.Accept("second"); err == nil {
		t.Fatal("expected connection limit error")
	}
}

func TestAcceptRequiresRunning(t *testing.T) {
	model := buildIOModel(t)
	server, err := NewServer(model)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	if _, err := server.Accept("early"); err == nil {
		t.Fatal("expected Accept to fail before Start")
	}
}

func TestConnectionIndication(t *testing.T) {
	model := buildIOModel(t)
	server := startServer(t, nil, model)

	events := make(chan bool, 2)
	server.SetConnectionIndicationHandler(func(s *IedServer, conn *ClientConnection, connected bool) {
		events <- connected
	})

	transport, err := server.Accept("watched")
	if err != nil {
		t.Fatalf("Accept failed: %v", err)
	}
	client, err := NewClient(Settings{Transport: transport})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if got := <-events; !got {
		t.Error("expected connected event first")
	}
	client.Close()
	if got := <-events; got {
		t.Error("expected disconnected event")
	}
}

func TestServerIdentity(t *testing.T) {
	model := buildIOModel(t)
	server := startServer(t, nil, model)
	server.SetServerIdentity("vendor", "model", "1.0")
	v, m, r := server.GetServerIdentity()
	if v != "vendor" || m != "model" || r != "1.0" {
		t.Fatalf("unexpected identity %q %q %q", v, m, r)
	}
}

func TestInvalidConfigRejected(t *testing.T) {
	cfg := NewServerConfig()
	cfg.ReportBufferSize = 0
	if _, err := NewServerWithConfig(cfg, buildIOModel(t)); err == nil {
		t.Fatal("expected invalid config to be rejected")
	}
}

func TestDataSetEntryLimit(t *testing.T) {
	cfg := NewServerConfig()
	cfg.MaxDataSetEntries = 2
	if _, err := NewServerWithConfig(cfg, buildIOModel(t)); err == nil {
		t.Fatal("expected oversized data set to be rejected")
	}
}

func TestDynamicDataSetDisabledByDefault(t *testing.T) {
	server := startServer(t, nil, buildIOModel(t))
	client := connect(t, server)

	err := client.CreateDataSet("testLD/LLN0.Tracked", []string{"testLD/GGIO1.Ind1.stVal[ST]"})
	if !errors.Is(err, IED_ERROR_SERVICE_NOT_IMPLEMENTED) {
		t.Fatalf("expected service-not-implemented, got %v", err)
	}
}

func TestCreateDomainDataSet(t *testing.T) {
	cfg := NewServerConfig()
	cfg.EnableDynamicDataSetService = true
	server := startServer(t, cfg, buildIOModel(t))
	client := connect(t, server)

	err := client.CreateDataSet("testLD/LLN0.Tracked", []string{
		"testLD/GGIO1.Ind1.stVal[ST]",
		"testLD/GGIO1.AnIn1.mag.f[MX]",
	})
	if err != nil {
		t.Fatalf("CreateDataSet failed: %v", err)
	}

	values, err := client.ReadDataSet("testLD/LLN0.Tracked")
	if err != nil {
		t.Fatalf("ReadDataSet failed: %v", err)
	}
	if len(values) != 2 {
		t.Fatalf("expected 2 members, got %d", len(values))
	}

	members, deletable, err := client.GetDataSetDirectory("testLD/LLN0.Tracked")
	if err != nil {
		t.Fatalf("GetDataSetDirectory failed: %v", err)
	}
	if !deletable {
		t.Error("client created data set must be deletable")
	}
	if len(members) != 2 || members[0] != "testLD/GGIO1.Ind1.stVal[ST]" {
		t.Errorf("unexpected members %v", members)
	}
	if _, deletable, _ := client.GetDataSetDirectory("testLD/LLN0.Events"); deletable {
		t.Error("declared data set must not be deletable")
	}

	if err := client.DeleteDataSet("testLD/LLN0.Events"); !errors.Is(err, IED_ERROR_ACCESS_DENIED) {
		t.Fatalf("expected delete of a declared data set to be denied, got %v", err)
	}
	if err := client.DeleteDataSet("testLD/LLN0.Tracked"); err != nil {
		t.Fatalf("DeleteDataSet failed: %v", err)
	}
	if _, err := client.ReadDataSet("testLD/LLN0.Tracked"); !errors.Is(err, IED_ERROR_OBJECT_DOES_NOT_EXIST) {
		t.Fatalf("expected deleted data set to be gone, got %v", err)
	}
}

func TestAssociationDataSetScope(t *testing.T) {
	cfg := NewServerConfig()
	cfg.EnableDynamicDataSetService = true
	server := startServer(t, cfg, buildIOModel(t))
	clientA := connect(t, server)
	clientB := connect(t, server)

	if err := clientA.CreateDataSet("@mine", []string{"testLD/GGIO1.Ind1.stVal[ST]"}); err != nil {
		t.Fatalf("CreateDataSet failed: %v", err)
	}
	if _, err := clientA.ReadDataSet("@mine"); err != nil {
		t.Fatalf("ReadDataSet failed: %v", err)
	}
	if _, err := clientB.ReadDataSet("@mine"); !errors.Is(err, IED_ERROR_OBJECT_DOES_NOT_EXIST) {
		t.Fatalf("association data set must be invisible to other clients, got %v", err)
	}
}

func TestAssociationDataSetLimit(t *testing.T) {
	cfg := NewServerConfig()
	cfg.EnableDynamicDataSetService = true
	cfg.MaxAssociationDatasets = 1
	server := startServer(t, cfg, buildIOModel(t))
	client := connect(t, server)

	if err := client.CreateDataSet("@one", []string{"testLD/GGIO1.Ind1.stVal[ST]"}); err != nil {
		t.Fatalf("CreateDataSet failed: %v", err)
	}
	err := client.CreateDataSet("@two", []string{"testLD/GGIO1.Ind2.stVal[ST]"})
	if !errors.Is(err, IED_ERROR_ACCESS_DENIED) {
		t.Fatalf("expected the association data set limit to apply, got %v", err)
	}
}
