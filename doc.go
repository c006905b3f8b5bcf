// Package sensornode runs a depth-camera sensor node: it binds a Kinect
// driver to a named publish Link and republishes what the camera sees as
// events on that channel.
//
// The process lifecycle is deliberately small. Main parses the command line
// (a required --name/-n plus optional overrides), acquires a Link for the
// name, opens the Device bound to it, prints "Started" and blocks in the
// device loop. A normal return prints "Finished" and exits 0. A DeviceError
// carrying message M writes "KinectError- M" to stderr and exits 1. Command
// line problems exit 2 before anything is acquired, and failing to acquire
// the Link or the Device exits 3. The Device is always released before the
// Link, each exactly once.
//
// # Transports
//
// The Link publishes through a Watermill publisher chosen by name from the
// transport registry:
//   - channel: in-process Go channels
//   - nats: core NATS
//   - nats-jetstream: NATS JetStream stream with de-duplication IDs
//   - kafka: Kafka via Sarama
//   - rabbitmq: AMQP exchanges
//   - aws / aws-sqs: SNS topics or SQS queues, LocalStack friendly
//   - http: POST to a base URL
//   - mqtt: MQTT 3.1.1 with a retained online/offline status topic
//   - io: JSON lines appended to a file or stdout
//   - sqlite: bounded local event spool
//   - postgres: event table
//
// Import github.com/drblury/sensornode/transport/transports to register all
// of them.
//
// # Device
//
// The Kinect driver reads 16-bit depth frames (from ffmpeg over V4L2 or a
// synthetic generator), publishes "kinect.presence" when someone enters or
// leaves the near field and throttled "kinect.depth" summaries. It stops
// normally when its context is cancelled or a frame budget is spent.
package sensornode
