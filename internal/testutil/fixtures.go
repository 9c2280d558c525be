package testutil

import (
	"encoding/json"
	"testing"
)

// Schema fixtures modelled on a small virtualization inventory:
//
//	VirtualMachine --storage[*].vhd--> VirtualHardDisk
//	VmHost.virtualHardDisk <--(index host)-- VirtualHardDisk
//	VirtualMachine.storage[alias].virtualDrive <--(index owner, alias)-- VirtualHardDisk
//
// They are raw JSON so that packages below schema can use them without an
// import cycle.

// VirtualHardDiskSchema is VirtualHardDisk@0.0.1. Indexing attributes are
// ordinary optional fields.
const VirtualHardDiskSchema = `{
  "id": "VirtualHardDisk",
  "version": "0.0.1",
  "name": "VirtualHardDisk",
  "description": "virtual hard disk image",
  "keyTemplate": "{name}",
  "properties": {
    "name": {"type": "string"},
    "size": {"type": "number", "required": false},
    "host": {"type": "string", "required": false},
    "owner": {"type": "string", "required": false},
    "alias": {"type": "string", "required": false}
  }
}`

// VmHostSchemaV1 is VmHost@0.0.1 without any index.
const VmHostSchemaV1 = `{
  "id": "VmHost",
  "version": "0.0.1",
  "name": "VmHost",
  "description": "hypervisor host",
  "keyTemplate": "{name}",
  "properties": {
    "name": {"type": "string"},
    "virtualHardDisk": {
      "type": "array",
      "required": false,
      "items": {"type": "string", "contentMediaType": "inventory/VirtualHardDisk"}
    }
  }
}`

// VmHostSchemaV2 is VmHost@0.0.2: it indexes disks by their host attribute.
const VmHostSchemaV2 = `{
  "id": "VmHost",
  "version": "0.0.2",
  "name": "VmHost",
  "description": "hypervisor host",
  "keyTemplate": "{name}",
  "properties": {
    "name": {"type": "string"},
    "virtualHardDisk": {
      "type": "array",
      "required": false,
      "items": {
        "type": "string",
        "contentMediaType": "inventory/VirtualHardDisk",
        "indexTemplate": "VmHost/{host}/virtualHardDisk"
      }
    },
    "location": {"type": "string", "required": false}
  }
}`

// VirtualMachineSchema is VirtualMachine@0.0.1.
const VirtualMachineSchema = `{
  "id": "VirtualMachine",
  "version": "0.0.1",
  "name": "VirtualMachine",
  "description": "virtual machine",
  "keyTemplate": "{name}",
  "properties": {
    "name": {"type": "string"},
    "host": {"type": "string", "required": false, "contentMediaType": "inventory/VmHost"},
    "storage": {"type": "array", "items": {"type": "object", "ref": "storage"}},
    "network": {"type": "array", "items": {"type": "object", "ref": "network"}},
    "labels": {"type": "map", "required": false, "items": {"type": "string"}}
  },
  "definitions": {
    "storage": {
      "keyTemplate": "{name}",
      "properties": {
        "name": {"type": "string"},
        "vhd": {"type": "string", "contentMediaType": "inventory/VirtualHardDisk"},
        "virtualDrive": {
          "type": "array",
          "required": false,
          "items": {
            "type": "string",
            "contentMediaType": "inventory/VirtualHardDisk",
            "indexTemplate": "VirtualMachine/{owner}/storage[{alias}]/virtualDrive"
          }
        }
      }
    },
    "network": {
      "keyTemplate": "{name}",
      "properties": {
        "name": {"type": "string"},
        "mac": {"type": "string", "required": false}
      }
    }
  }
}`

// JSONMap decodes a JSON object fixture, failing the test on error.
func JSONMap(t testing.TB, s string) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		t.Fatalf("decode fixture: %v", err)
	}
	return m
}
