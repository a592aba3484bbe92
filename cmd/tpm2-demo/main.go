// Copyright (c) 2018, Google LLC All rights reserved.
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

// Command tpm2-demo brings up a TPM 2.0 and exercises it end to end:
// self-test, capabilities, PCRs, a PCR policy session and a policy-gated
// endorsement key.
//
//	tpm2-demo run --transport tcp
//	tpm2-demo pcrread --bank sha1 0 7
//	tpm2-demo caps
//
// Settings come from flags, then TPM2DEMO_* environment variables, then
// the YAML file named by --config.
package main

import "os"

func main() {
	os.Exit(Execute(NewRootCmd()))
}
