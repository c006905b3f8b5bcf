/*
Package runtime runs one sensor node process.

A run moves through Initializing, Running and then Completed or Failed:

  - Initializing: NewLink acquires the Link for the sensor name, then
    NewDevice opens the Device bound to that same Link.
  - Running: "Started" is printed and the Device loop blocks.
  - Completed: the loop returned nil. "Finished" is printed, exit 0.
  - Failed: the loop returned a DeviceError. Its diagnostic line
    ("KinectError- <message>") goes to stderr, exit 1.

Acquisition failures exit 3 and name the failing stage in the log. Command
line problems exit 2 before anything is acquired. The Device is released
before the Link on every path, including a panic inside the loop.

Main wires the production collaborators: configuration layering (defaults,
YAML file, SENSOR_* environment, flags), slog-backed logging, Prometheus
collectors with an optional /metrics endpoint, the transport-backed Link and
the Kinect driver.
*/
package runtime
