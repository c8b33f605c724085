package stores

import (
	"os"

	"bpmn-collab/core"
	"bpmn-collab/stores/filesystem"
	"bpmn-collab/stores/memory"
	"bpmn-collab/stores/sqlite"

	"github.com/sirupsen/logrus"
)

// GetStore selects a snapshot store from the STORAGE_TYPE environment
// variable. The default is the in-memory store, which loses the snapshot on
// restart.
func GetStore() core.SnapshotStore {
	storageType := os.Getenv("STORAGE_TYPE")
	var store core.SnapshotStore

	storageField := logrus.Fields{
		"storageType": storageType,
	}

	switch storageType {
	case "filesystem":
		basePath := os.Getenv("LOCAL_STORAGE_PATH")
		if basePath == "" {
			basePath = "./data"
		}
		storageField["basePath"] = basePath
		store = filesystem.NewSnapshotStore(basePath)
	case "sqlite":
		dataSourceName := os.Getenv("DATA_SOURCE_NAME")
		if dataSourceName == "" {
			dataSourceName = "bpmn-collab.db"
		}
		storageField["dataSourceName"] = dataSourceName
		store = sqlite.NewSnapshotStore(dataSourceName)
	default:
		store = memory.NewSnapshotStore()
		storageField["storageType"] = "in-memory"
	}
	logrus.WithFields(storageField).Info("Use storage")
	return store
}
