package server

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
)

// activityProtoFile is the file name reflection clients see for the
// activity service.
const activityProtoFile = "spine/v1/activity.proto"

// activityFile describes activityServiceDesc and is registered with the
// global registry, where server reflection looks symbols up.
var activityFile = registerActivityFile()

func registerActivityFile() protoreflect.FileDescriptor {
	fd, err := protodesc.NewFile(activityFileProto(), protoregistry.GlobalFiles)
	if err != nil {
		panic(fmt.Sprintf("building %s descriptor: %v", activityProtoFile, err))
	}
	if err := protoregistry.GlobalFiles.RegisterFile(fd); err != nil {
		panic(fmt.Sprintf("registering %s: %v", activityProtoFile, err))
	}
	return fd
}

// activityFileProto derives the service definition from activityServiceDesc.
// Every method takes and returns google.protobuf.Struct.
func activityFileProto() *descriptorpb.FileDescriptorProto {
	const structType = ".google.protobuf.Struct"
	method := func(name string, streaming bool) *descriptorpb.MethodDescriptorProto {
		m := &descriptorpb.MethodDescriptorProto{
			Name:       proto.String(name),
			InputType:  proto.String(structType),
			OutputType: proto.String(structType),
		}
		if streaming {
			m.ServerStreaming = proto.Bool(true)
		}
		return m
	}

	svc := &descriptorpb.ServiceDescriptorProto{Name: proto.String("ActivityService")}
	for _, m := range activityServiceDesc.Methods {
		svc.Method = append(svc.Method, method(m.MethodName, false))
	}
	for _, st := range activityServiceDesc.Streams {
		svc.Method = append(svc.Method, method(st.StreamName, st.ServerStreams))
	}
	return &descriptorpb.FileDescriptorProto{
		Name:       proto.String(activityProtoFile),
		Package:    proto.String("spine.v1"),
		Dependency: []string{"google/protobuf/struct.proto"},
		Syntax:     proto.String("proto3"),
		Service:    []*descriptorpb.ServiceDescriptorProto{svc},
	}
}
